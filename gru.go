package styletransfer

import (
	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/weakai/neuralnet"
)

func init() {
	var g GRU
	serializer.RegisterTypedDeserializer(g.SerializerType(), DeserializeGRU)
}

var (
	sigmoidLayer = &neuralnet.Sigmoid{}
	tanhLayer    = &neuralnet.HyperbolicTangent{}
)

// GRU is a gated recurrent unit.
//
// Every gate reads the input joined with the previous
// state, so each layer has InputSize()+StateSize()
// inputs and StateSize() outputs.
type GRU struct {
	Update    *neuralnet.DenseLayer
	Reset     *neuralnet.DenseLayer
	Candidate *neuralnet.DenseLayer
}

// NewGRU creates a randomly initialized GRU.
func NewGRU(inSize, stateSize int) *GRU {
	newLayer := func() *neuralnet.DenseLayer {
		l := &neuralnet.DenseLayer{
			InputCount:  inSize + stateSize,
			OutputCount: stateSize,
		}
		l.Randomize()
		return l
	}
	return &GRU{
		Update:    newLayer(),
		Reset:     newLayer(),
		Candidate: newLayer(),
	}
}

// DeserializeGRU deserializes a GRU.
func DeserializeGRU(d []byte) (*GRU, error) {
	var g GRU
	if err := serializer.DeserializeAny(d, &g.Update, &g.Reset, &g.Candidate); err != nil {
		return nil, essentials.AddCtx("deserialize GRU", err)
	}
	return &g, nil
}

// InputSize returns the size of input vectors.
func (g *GRU) InputSize() int {
	return g.Update.InputCount - g.Update.OutputCount
}

// StateSize returns the size of the hidden state.
func (g *GRU) StateSize() int {
	return g.Update.OutputCount
}

// Step computes the next hidden state.
func (g *GRU) Step(rawIn, rawState autofunc.Result) autofunc.Result {
	if len(rawIn.Output()) != g.InputSize() || len(rawState.Output()) != g.StateSize() {
		panic("GRU input or state has the wrong size")
	}
	return autofunc.Pool(rawIn, func(in autofunc.Result) autofunc.Result {
		return autofunc.Pool(rawState, func(state autofunc.Result) autofunc.Result {
			update := sigmoidLayer.Apply(g.Update.Apply(autofunc.Concat(in, state)))
			reset := sigmoidLayer.Apply(g.Reset.Apply(autofunc.Concat(in, state)))
			resetState := autofunc.Mul(reset, state)
			candidate := tanhLayer.Apply(g.Candidate.Apply(autofunc.Concat(in, resetState)))

			// (1-u)*c + u*h == c + u*(h-c)
			return autofunc.Pool(candidate, func(c autofunc.Result) autofunc.Result {
				diff := autofunc.Add(state, autofunc.Scale(c, -1))
				return autofunc.Add(c, autofunc.Mul(update, diff))
			})
		})
	})
}

// Parameters returns the parameters of every gate.
func (g *GRU) Parameters() []*autofunc.Variable {
	var res []*autofunc.Variable
	for _, l := range []*neuralnet.DenseLayer{g.Update, g.Reset, g.Candidate} {
		res = append(res, l.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// GRUs with the serializer package.
func (g *GRU) SerializerType() string {
	return "github.com/unixpickle/styletransfer.GRU"
}

// Serialize serializes the gate layers.
func (g *GRU) Serialize() ([]byte, error) {
	return serializer.SerializeAny(g.Update, g.Reset, g.Candidate)
}
