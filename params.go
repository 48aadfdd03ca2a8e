package styletransfer

import (
	"errors"
	"fmt"
)

// ErrInvalidParams is returned (wrapped) when a Params
// value cannot be used to build or run a model.
var ErrInvalidParams = errors.New("invalid parameters")

// Params stores the hyper-parameters of a model and its
// training procedure.
type Params struct {
	EmbeddingSize int
	DimY          int
	DimZ          int

	BatchSize int
	Epochs    int

	// StepsPerEpoch bounds an epoch when batches are
	// streamed rather than loaded into memory.
	StepsPerEpoch int

	// InMemory selects shuffled in-memory batching over
	// sequential streaming.
	InMemory bool

	// Temperature scales logits before every softmax
	// used for soft tokens and beam search.
	Temperature float64

	// Lambda weighs the adversarial generator loss.
	Lambda float64

	// Dropout is the drop probability applied to
	// generator outputs.
	Dropout float64

	// MaxLoss is the largest autoencoder loss accepted
	// before training is considered diverged.
	MaxLoss float64

	// GradClip is the maximum L2 norm of the
	// autoencoder gradient.
	GradClip float64

	// MaxDLoss is the discriminator loss ceiling. The
	// adversarial term is only trained when both
	// discriminator losses are below it.
	MaxDLoss float64

	BeamWidth int
	MaxLen    int

	LearningRate     float64
	DiscLearningRate float64
	Beta1            float64
	Beta2            float64

	DiscChannels int
	KernelSizes  []int
	DiscDropout  float64

	// LogInterval is the number of steps between debug
	// loss dumps.
	LogInterval int

	// DecodeWorkers limits how many batch elements are
	// beam-decoded concurrently.
	DecodeWorkers int

	SaveFile string
}

// DefaultParams returns the default hyper-parameters.
func DefaultParams() *Params {
	return &Params{
		EmbeddingSize:    200,
		DimY:             200,
		DimZ:             500,
		BatchSize:        12,
		Epochs:           20,
		StepsPerEpoch:    1000,
		InMemory:         true,
		Temperature:      0.1,
		Lambda:           1,
		Dropout:          0.5,
		MaxLoss:          1e10,
		GradClip:         20,
		MaxDLoss:         1.2,
		BeamWidth:        3,
		MaxLen:           20,
		LearningRate:     0.001,
		DiscLearningRate: 0.001,
		Beta1:            0.5,
		Beta2:            0.999,
		DiscChannels:     3,
		KernelSizes:      []int{1, 2, 3},
		DiscDropout:      0.5,
		LogInterval:      200,
		DecodeWorkers:    4,
	}
}

// HiddenSize is the size of a hidden state, style and
// content parts included.
func (p *Params) HiddenSize() int {
	return p.DimY + p.DimZ
}

// Validate checks that p describes a usable model.
func (p *Params) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"embedding size", p.EmbeddingSize},
		{"style dimension", p.DimY},
		{"content dimension", p.DimZ},
		{"batch size", p.BatchSize},
		{"epochs", p.Epochs},
		{"beam width", p.BeamWidth},
		{"max length", p.MaxLen},
		{"discriminator channels", p.DiscChannels},
	}
	for _, x := range positive {
		if x.value <= 0 {
			return fmt.Errorf("%w: %s must be positive (got %d)", ErrInvalidParams,
				x.name, x.value)
		}
	}
	if p.BatchSize%2 != 0 {
		return fmt.Errorf("%w: batch size %d cannot be split between two styles",
			ErrInvalidParams, p.BatchSize)
	}
	if !p.InMemory && p.StepsPerEpoch <= 0 {
		return fmt.Errorf("%w: streamed batches need a positive step count",
			ErrInvalidParams)
	}
	if p.Temperature <= 0 {
		return fmt.Errorf("%w: temperature must be positive", ErrInvalidParams)
	}
	if p.Dropout < 0 || p.Dropout >= 1 || p.DiscDropout < 0 || p.DiscDropout >= 1 {
		return fmt.Errorf("%w: dropout must be in [0, 1)", ErrInvalidParams)
	}
	if len(p.KernelSizes) == 0 {
		return fmt.Errorf("%w: no discriminator kernels", ErrInvalidParams)
	}
	for _, k := range p.KernelSizes {
		if k <= 0 {
			return fmt.Errorf("%w: kernel size %d", ErrInvalidParams, k)
		}
	}
	return nil
}

func (p *Params) validateDecoding(vocabSize int) error {
	if p.MaxLen <= 0 {
		return fmt.Errorf("%w: max length must be positive (got %d)", ErrInvalidParams,
			p.MaxLen)
	}
	if p.BeamWidth <= 0 {
		return fmt.Errorf("%w: beam width must be positive (got %d)", ErrInvalidParams,
			p.BeamWidth)
	}
	if p.BeamWidth > vocabSize {
		return fmt.Errorf("%w: beam width %d exceeds vocabulary size %d",
			ErrInvalidParams, p.BeamWidth, vocabSize)
	}
	return nil
}
