package styletransfer

import (
	"math"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/sgd"
)

// A Group is a set of parameters updated together by an
// sgd.Adam optimizer with its own moment estimates.
//
// Each group computes gradients only for its own
// parameters, so a loss back-propagated through a group
// never touches another group's parameters.
type Group struct {
	Name string
	Vars []*autofunc.Variable
	Rate float64

	gradienter *lossGradienter
	adam       *sgd.Adam
	steps      int
}

// NewGroup creates a Group for a list of parameters.
//
// If clip is positive, the L2 norm of every gradient is
// clipped to clip before it reaches Adam.
func NewGroup(name string, vars []*autofunc.Variable, rate, beta1, beta2,
	clip float64) *Group {
	g := &lossGradienter{Vars: vars, Clip: clip}
	return &Group{
		Name:       name,
		Vars:       g.Vars,
		Rate:       rate,
		gradienter: g,
		adam: &sgd.Adam{
			Gradienter: g,
			DecayRate1: beta1,
			DecayRate2: beta2,
			Damping:    1e-8,
		},
	}
}

// Parameters returns the parameters of the group.
func (g *Group) Parameters() []*autofunc.Variable {
	return g.Vars
}

// Steps returns the number of updates applied so far.
func (g *Group) Steps() int {
	return g.steps
}

// Step back-propagates a scalar loss into the group's
// parameters and applies one Adam update.
//
// It returns the gradient norm before clipping. If the
// loss does not depend on any of the parameters, nothing
// is updated and ok is false.
func (g *Group) Step(loss autofunc.Result) (norm float64, ok bool) {
	if loss.Constant(autofunc.NewGradient(g.Vars)) {
		return 0, false
	}
	g.gradienter.Loss = loss
	defer func() {
		g.gradienter.Loss = nil
	}()
	step := g.adam.Gradient(sgd.SliceSampleSet{})
	step.AddToVars(-g.Rate)
	g.steps++
	return g.gradienter.Norm, true
}

// lossGradienter is an sgd.Gradienter which ignores its
// samples and back-propagates a pre-built loss.
type lossGradienter struct {
	Vars []*autofunc.Variable
	Clip float64
	Loss autofunc.Result

	// Norm is the gradient norm of the last call, before
	// clipping.
	Norm float64
}

func (l *lossGradienter) Gradient(s sgd.SampleSet) autofunc.Gradient {
	grad := autofunc.NewGradient(l.Vars)
	l.Loss.PropagateGradient(linalg.Vector{1}, grad)
	l.Norm = ClipGradient(grad, l.Clip)
	return grad
}

// ClipGradient scales grad so that its L2 norm is at
// most maxNorm and returns the norm before clipping.
// A non-positive maxNorm disables clipping.
func ClipGradient(grad autofunc.Gradient, maxNorm float64) float64 {
	var sq float64
	for _, v := range grad {
		sq += v.Dot(v)
	}
	norm := math.Sqrt(sq)
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for _, v := range grad {
			v.Scale(scale)
		}
	}
	return norm
}
