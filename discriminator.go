package styletransfer

import (
	"errors"
	"math"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/weakai/neuralnet"
)

func init() {
	var c ConvDiscriminator
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeConvDiscriminator)
}

// ConvDiscriminator is a Discriminator which slides
// kernels of several widths over a hidden-state sequence,
// max-pools every channel over time, and maps the pooled
// features to a logit.
type ConvDiscriminator struct {
	StateSize int

	// Kernels[i] sees a window of InputCount/StateSize
	// consecutive hidden states.
	Kernels []*neuralnet.DenseLayer

	Dropout *neuralnet.DropoutLayer
	Output  *neuralnet.DenseLayer
}

// NewConvDiscriminator creates a randomly initialized
// discriminator with one kernel per window size.
func NewConvDiscriminator(stateSize, channels int, kernelSizes []int,
	dropout float64) *ConvDiscriminator {
	res := &ConvDiscriminator{
		StateSize: stateSize,
		Dropout: &neuralnet.DropoutLayer{
			KeepProbability: 1 - dropout,
			Training:        true,
		},
		Output: &neuralnet.DenseLayer{
			InputCount:  channels * len(kernelSizes),
			OutputCount: 1,
		},
	}
	res.Output.Randomize()
	for _, size := range kernelSizes {
		kernel := &neuralnet.DenseLayer{
			InputCount:  size * stateSize,
			OutputCount: channels,
		}
		kernel.Randomize()
		res.Kernels = append(res.Kernels, kernel)
	}
	return res
}

// DeserializeConvDiscriminator deserializes a
// ConvDiscriminator.
func DeserializeConvDiscriminator(d []byte) (*ConvDiscriminator, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, err
	}
	if len(slice) < 4 {
		return nil, errors.New("invalid ConvDiscriminator slice")
	}
	stateSize, ok1 := slice[0].(serializer.Int)
	dropout, ok2 := slice[1].(*neuralnet.DropoutLayer)
	output, ok3 := slice[2].(*neuralnet.DenseLayer)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("invalid ConvDiscriminator slice")
	}
	res := &ConvDiscriminator{
		StateSize: int(stateSize),
		Dropout:   dropout,
		Output:    output,
	}
	for _, x := range slice[3:] {
		kernel, ok := x.(*neuralnet.DenseLayer)
		if !ok {
			return nil, errors.New("invalid ConvDiscriminator slice")
		}
		res.Kernels = append(res.Kernels, kernel)
	}
	return res, nil
}

// Score computes a logit for the joined sequence.
// Sequences shorter than a kernel are zero-padded.
func (c *ConvDiscriminator) Score(rawSeq autofunc.Result) autofunc.Result {
	if len(rawSeq.Output())%c.StateSize != 0 {
		panic("sequence length must be a multiple of the state size")
	}
	return autofunc.Pool(rawSeq, func(seq autofunc.Result) autofunc.Result {
		var features []autofunc.Result
		for _, kernel := range c.Kernels {
			width := kernel.InputCount / c.StateSize
			padded := seq
			steps := len(seq.Output()) / c.StateSize
			if steps < width {
				zeros := &autofunc.Variable{
					Vector: make(linalg.Vector, (width-steps)*c.StateSize),
				}
				padded = autofunc.Concat(seq, zeros)
				steps = width
			}
			var acts []autofunc.Result
			for t := 0; t+width <= steps; t++ {
				window := autofunc.Slice(padded, t*c.StateSize, (t+width)*c.StateSize)
				acts = append(acts, tanhLayer.Apply(kernel.Apply(window)))
			}
			features = append(features, maxOverTime(acts))
		}
		joined := autofunc.Concat(features...)
		return c.Output.Apply(c.Dropout.Apply(joined))
	})
}

// SetTraining toggles dropout.
func (c *ConvDiscriminator) SetTraining(training bool) {
	c.Dropout.Training = training
}

// Parameters returns the kernel and output parameters.
func (c *ConvDiscriminator) Parameters() []*autofunc.Variable {
	res := c.Output.Parameters()
	for _, k := range c.Kernels {
		res = append(res, k.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// ConvDiscriminators with the serializer package.
func (c *ConvDiscriminator) SerializerType() string {
	return "github.com/unixpickle/styletransfer.ConvDiscriminator"
}

// Serialize serializes the discriminator.
func (c *ConvDiscriminator) Serialize() ([]byte, error) {
	list := []serializer.Serializer{serializer.Int(c.StateSize), c.Dropout, c.Output}
	for _, k := range c.Kernels {
		list = append(list, k)
	}
	return serializer.SerializeSlice(list)
}

// maxOverTime takes the component-wise maximum of
// equally sized vectors.
func maxOverTime(in []autofunc.Result) autofunc.Result {
	size := len(in[0].Output())
	res := &maxPoolRes{
		Inputs:    in,
		OutputVec: make(linalg.Vector, size),
		ArgMax:    make([]int, size),
	}
	for i := range res.OutputVec {
		res.OutputVec[i] = math.Inf(-1)
	}
	for j, r := range in {
		for i, x := range r.Output() {
			if x > res.OutputVec[i] {
				res.OutputVec[i] = x
				res.ArgMax[i] = j
			}
		}
	}
	return res
}

type maxPoolRes struct {
	Inputs    []autofunc.Result
	OutputVec linalg.Vector
	ArgMax    []int
}

func (m *maxPoolRes) Output() linalg.Vector {
	return m.OutputVec
}

func (m *maxPoolRes) Constant(g autofunc.Gradient) bool {
	for _, in := range m.Inputs {
		if !in.Constant(g) {
			return false
		}
	}
	return true
}

func (m *maxPoolRes) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	downstream := map[int]linalg.Vector{}
	for i, j := range m.ArgMax {
		if downstream[j] == nil {
			downstream[j] = make(linalg.Vector, len(upstream))
		}
		downstream[j][i] = upstream[i]
	}
	for j, in := range m.Inputs {
		if down, ok := downstream[j]; ok && !in.Constant(g) {
			in.PropagateGradient(down, g)
		}
	}
}
