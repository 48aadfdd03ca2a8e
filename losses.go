package styletransfer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/weakai/neuralnet"
)

// Names of the entries in a Losses bundle.
const (
	LossReconstruction = "reconstruction"
	LossDiscriminator0 = "discriminator0"
	LossDiscriminator1 = "discriminator1"
	LossGenerator      = "generator"
	LossAutoencoder    = "autoencoder"
)

// ErrDiverged is returned (wrapped) when a loss stops
// being finite or exceeds Params.MaxLoss.
var ErrDiverged = errors.New("training diverged")

// Losses maps loss names to scalar values.
type Losses map[string]float64

// Check returns an ErrDiverged error if any loss is NaN
// or infinite.
func (l Losses) Check() error {
	for _, name := range l.names() {
		x := l[name]
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: %s loss is %f", ErrDiverged, name, x)
		}
	}
	return nil
}

// String formats the losses in name order.
func (l Losses) String() string {
	var parts []string
	for _, name := range l.names() {
		parts = append(parts, fmt.Sprintf("%s=%f", name, l[name]))
	}
	return strings.Join(parts, " ")
}

func (l Losses) names() []string {
	res := make([]string, 0, len(l))
	for name := range l {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

var logSoftmax = &neuralnet.LogSoftmaxLayer{}

// crossEntropy is the negative log-likelihood of target
// under softmax(logits).
func crossEntropy(logits autofunc.Result, target int) autofunc.Result {
	logProbs := logSoftmax.Apply(logits)
	return autofunc.Scale(autofunc.Slice(logProbs, target, target+1), -1)
}

// logitLoss is binary cross-entropy on a single logit,
// where real selects the target class.
func logitLoss(logit autofunc.Result, real bool) autofunc.Result {
	if real {
		return softplus(autofunc.Scale(logit, -1))
	}
	return softplus(logit)
}

// adversarialLosses computes the discriminator loss for
// real and fake logits along with the loss a generator
// suffers when its fake logits are recognized.
func adversarialLosses(real, fake []autofunc.Result) (disc, gen autofunc.Result) {
	var realLosses, fakeLosses, genLosses []autofunc.Result
	for _, r := range real {
		realLosses = append(realLosses, logitLoss(r, true))
	}
	for _, f := range fake {
		fakeLosses = append(fakeLosses, logitLoss(f, false))
		genLosses = append(genLosses, logitLoss(f, true))
	}
	disc = autofunc.Add(mean(realLosses), mean(fakeLosses))
	gen = mean(genLosses)
	return
}

// mean averages a non-empty list of scalar results.
func mean(rs []autofunc.Result) autofunc.Result {
	if len(rs) == 0 {
		panic("mean of no results")
	}
	sum := rs[0]
	for _, r := range rs[1:] {
		sum = autofunc.Add(sum, r)
	}
	return autofunc.Scale(sum, 1/float64(len(rs)))
}

func scalar(r autofunc.Result) float64 {
	return r.Output()[0]
}

// softplus computes log(1+exp(x)) component-wise in a
// way that does not overflow for large inputs.
func softplus(in autofunc.Result) autofunc.Result {
	x := in.Output()
	out := make(linalg.Vector, len(x))
	for i, v := range x {
		out[i] = math.Max(v, 0) + math.Log1p(math.Exp(-math.Abs(v)))
	}
	return &softplusRes{Input: in, OutputVec: out}
}

type softplusRes struct {
	Input     autofunc.Result
	OutputVec linalg.Vector
}

func (s *softplusRes) Output() linalg.Vector {
	return s.OutputVec
}

func (s *softplusRes) Constant(g autofunc.Gradient) bool {
	return s.Input.Constant(g)
}

func (s *softplusRes) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	if s.Input.Constant(g) {
		return
	}
	down := make(linalg.Vector, len(upstream))
	for i, x := range s.Input.Output() {
		down[i] = upstream[i] / (1 + math.Exp(-x))
	}
	s.Input.PropagateGradient(down, g)
}
