package styletransfer

import (
	"errors"
	"fmt"
	"os"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/sgd"
	"github.com/unixpickle/weakai/neuralnet"
)

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// A Model stores every trainable component of a style
// transfer autoencoder.
type Model struct {
	DimY int
	DimZ int

	Vocab     *Vocabulary
	Encoder   Cell
	Generator Cell

	// EncoderLabels and GeneratorLabels map a 1-D label
	// input to a DimY style vector.
	EncoderLabels   *neuralnet.DenseLayer
	GeneratorLabels *neuralnet.DenseLayer

	// HiddenToVocab projects hidden states to logits.
	HiddenToVocab *neuralnet.DenseLayer

	// OutputDropout is applied to generator outputs
	// before they are projected.
	OutputDropout *neuralnet.DropoutLayer

	// Discriminators is indexed by style label.
	Discriminators [2]Discriminator
}

// NewModel creates a randomly initialized model for the
// given vocabulary.
func NewModel(p *Params, vocab *Vocabulary) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if vocab.EmbeddingSize != p.EmbeddingSize {
		return nil, fmt.Errorf("%w: vocabulary embeddings have size %d, expected %d",
			ErrInvalidParams, vocab.EmbeddingSize, p.EmbeddingSize)
	}
	hidden := p.HiddenSize()
	newLinear := func(in, out int) *neuralnet.DenseLayer {
		l := &neuralnet.DenseLayer{InputCount: in, OutputCount: out}
		l.Randomize()
		return l
	}
	m := &Model{
		DimY:            p.DimY,
		DimZ:            p.DimZ,
		Vocab:           vocab,
		Encoder:         NewGRU(p.EmbeddingSize, hidden),
		Generator:       NewGRU(p.EmbeddingSize, hidden),
		EncoderLabels:   newLinear(1, p.DimY),
		GeneratorLabels: newLinear(1, p.DimY),
		HiddenToVocab:   newLinear(hidden, vocab.Len()),
		OutputDropout: &neuralnet.DropoutLayer{
			KeepProbability: 1 - p.Dropout,
			Training:        true,
		},
	}
	for i := range m.Discriminators {
		m.Discriminators[i] = NewConvDiscriminator(hidden, p.DiscChannels,
			p.KernelSizes, p.DiscDropout)
	}
	return m, nil
}

// DeserializeModel deserializes a Model.
func DeserializeModel(d []byte) (*Model, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	if len(slice) != 11 {
		return nil, errors.New("deserialize Model: invalid slice length")
	}
	dimY, ok1 := slice[0].(serializer.Int)
	dimZ, ok2 := slice[1].(serializer.Int)
	vocab, ok3 := slice[2].(*Vocabulary)
	encoder, ok4 := slice[3].(Cell)
	generator, ok5 := slice[4].(Cell)
	encLabels, ok6 := slice[5].(*neuralnet.DenseLayer)
	genLabels, ok7 := slice[6].(*neuralnet.DenseLayer)
	toVocab, ok8 := slice[7].(*neuralnet.DenseLayer)
	dropout, ok9 := slice[8].(*neuralnet.DropoutLayer)
	disc0, ok10 := slice[9].(Discriminator)
	disc1, ok11 := slice[10].(Discriminator)
	for _, ok := range []bool{ok1, ok2, ok3, ok4, ok5, ok6, ok7, ok8, ok9, ok10, ok11} {
		if !ok {
			return nil, errors.New("deserialize Model: unexpected component type")
		}
	}
	return &Model{
		DimY:            int(dimY),
		DimZ:            int(dimZ),
		Vocab:           vocab,
		Encoder:         encoder,
		Generator:       generator,
		EncoderLabels:   encLabels,
		GeneratorLabels: genLabels,
		HiddenToVocab:   toVocab,
		OutputDropout:   dropout,
		Discriminators:  [2]Discriminator{disc0, disc1},
	}, nil
}

// LoadModel reads a checkpoint written by Save.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load model", err)
	}
	return DeserializeModel(data)
}

// Save writes a checkpoint of the model to a file.
func (m *Model) Save(path string) error {
	data, err := m.Serialize()
	if err != nil {
		return essentials.AddCtx("save model", err)
	}
	return os.WriteFile(path, data, 0644)
}

// HiddenSize is the size of a full hidden state.
func (m *Model) HiddenSize() int {
	return m.DimY + m.DimZ
}

// SetTraining toggles every stochastic layer.
func (m *Model) SetTraining(training bool) {
	m.OutputDropout.Training = training
	for _, d := range m.Discriminators {
		if t, ok := d.(Trainable); ok {
			t.SetTraining(training)
		}
	}
}

// Training reports whether the stochastic layers are in
// training mode.
func (m *Model) Training() bool {
	return m.OutputDropout.Training
}

// AutoencoderParameters returns the parameters of the
// encoder, the generator, both label transforms, the
// embeddings and the vocabulary projection.
func (m *Model) AutoencoderParameters() []*autofunc.Variable {
	var res []*autofunc.Variable
	res = append(res, learnerParameters(m.Encoder)...)
	res = append(res, learnerParameters(m.Generator)...)
	res = append(res, m.EncoderLabels.Parameters()...)
	res = append(res, m.GeneratorLabels.Parameters()...)
	res = append(res, m.Vocab.Parameters()...)
	res = append(res, m.HiddenToVocab.Parameters()...)
	return res
}

// DiscriminatorParameters returns the parameters of the
// discriminator for a style label.
func (m *Model) DiscriminatorParameters(label int) []*autofunc.Variable {
	return learnerParameters(m.Discriminators[label])
}

// SerializerType returns the unique ID used to serialize
// Models with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/unixpickle/styletransfer.Model"
}

// Serialize serializes every component. Each Cell and
// Discriminator must be a serializer.Serializer.
func (m *Model) Serialize() ([]byte, error) {
	list := []serializer.Serializer{
		serializer.Int(m.DimY),
		serializer.Int(m.DimZ),
		m.Vocab,
	}
	for _, x := range []interface{}{m.Encoder, m.Generator} {
		s, ok := x.(serializer.Serializer)
		if !ok {
			return nil, fmt.Errorf("cell is not a Serializer: %T", x)
		}
		list = append(list, s)
	}
	list = append(list, m.EncoderLabels, m.GeneratorLabels, m.HiddenToVocab,
		m.OutputDropout)
	for _, d := range m.Discriminators {
		s, ok := d.(serializer.Serializer)
		if !ok {
			return nil, fmt.Errorf("discriminator is not a Serializer: %T", d)
		}
		list = append(list, s)
	}
	return serializer.SerializeSlice(list)
}

// labelStyle applies a label transform to a constant
// label value.
func labelStyle(transform *neuralnet.DenseLayer, label float64) autofunc.Result {
	return transform.Apply(&autofunc.Variable{Vector: linalg.Vector{label}})
}

func learnerParameters(x interface{}) []*autofunc.Variable {
	if l, ok := x.(sgd.Learner); ok {
		return l.Parameters()
	}
	return nil
}
