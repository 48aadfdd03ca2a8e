package styletransfer

import (
	"fmt"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
)

// Conditioning stores the hidden states that seed the
// generator for a batch of sentences.
//
// Every hidden state is a style part of size DimY
// followed by a content part of size DimZ.
//
// Original[i] and Transformed[i] share Content[i]. Use
// Pool to back-propagate through both of them without
// running the encoder's backward pass twice.
type Conditioning struct {
	Labels []int

	// Content is the label-independent encoding of each
	// sentence.
	Content []autofunc.Result

	// Original joins the style of each true label with
	// the content.
	Original []autofunc.Result

	// Transformed joins the style of each flipped label
	// with the content.
	Transformed []autofunc.Result

	model *Model
}

// Len returns the batch size.
func (c *Conditioning) Len() int {
	return len(c.Labels)
}

// OriginalVecs returns the constant values of the
// original hidden states.
func (c *Conditioning) OriginalVecs() []linalg.Vector {
	return outputs(c.Original)
}

// TransformedVecs returns the constant values of the
// transformed hidden states.
func (c *Conditioning) TransformedVecs() []linalg.Vector {
	return outputs(c.Transformed)
}

// Compose encodes a batch of embedded sentences and
// builds their conditioning hidden states.
//
// Each label must be 0 or 1.
func (m *Model) Compose(inputs [][]autofunc.Result, labels []int) (*Conditioning, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("%w: %d sequences but %d labels", ErrMalformedBatch,
			len(inputs), len(labels))
	}
	if err := validateLabels(labels); err != nil {
		return nil, err
	}
	zeroContent := &autofunc.Variable{Vector: make(linalg.Vector, m.DimZ)}
	content := make([]autofunc.Result, len(inputs))
	for i, seq := range inputs {
		seed := autofunc.Concat(labelStyle(m.EncoderLabels, float64(labels[i])), zeroContent)
		final := runCell(m.Encoder, seed, seq)
		content[i] = autofunc.Slice(final, m.DimY, m.DimY+m.DimZ)
	}
	return m.condition(labels, content), nil
}

// Pool calls f with a copy of c whose content vectors are
// pooled, and returns the result of f.
//
// The encoder behind each content vector is
// back-propagated once, however many results f derives
// from the pooled Original and Transformed states.
func (c *Conditioning) Pool(f func(pooled *Conditioning) autofunc.Result) autofunc.Result {
	return poolAll(c.Content, func(content []autofunc.Result) autofunc.Result {
		return f(c.model.condition(c.Labels, content))
	})
}

func (m *Model) condition(labels []int, content []autofunc.Result) *Conditioning {
	res := &Conditioning{Labels: labels, Content: content, model: m}
	for i, c := range content {
		label := float64(labels[i])
		res.Original = append(res.Original,
			autofunc.Concat(labelStyle(m.GeneratorLabels, label), c))
		res.Transformed = append(res.Transformed,
			autofunc.Concat(labelStyle(m.GeneratorLabels, 1-label), c))
	}
	return res
}

// poolAll nests one autofunc.Pool per result around f.
func poolAll(rs []autofunc.Result, f func([]autofunc.Result) autofunc.Result) autofunc.Result {
	pooled := make([]autofunc.Result, 0, len(rs))
	var next func(i int) autofunc.Result
	next = func(i int) autofunc.Result {
		if i == len(rs) {
			return f(pooled)
		}
		return autofunc.Pool(rs[i], func(r autofunc.Result) autofunc.Result {
			pooled = append(pooled, r)
			return next(i + 1)
		})
	}
	return next(0)
}

// SplitHidden splits a hidden state into its style and
// content parts.
func (m *Model) SplitHidden(h linalg.Vector) (style, content linalg.Vector) {
	return h[:m.DimY], h[m.DimY:]
}

// Embed looks up the embeddings of token ids.
func (m *Model) Embed(ids []int) []autofunc.Result {
	res := make([]autofunc.Result, len(ids))
	for i, id := range ids {
		res[i] = m.Vocab.Embed(id)
	}
	return res
}

// runCell feeds a sequence through a cell and returns the
// final state.
func runCell(c Cell, state autofunc.Result, inputs []autofunc.Result) autofunc.Result {
	for _, in := range inputs {
		state = c.Step(in, state)
	}
	return state
}

func outputs(rs []autofunc.Result) []linalg.Vector {
	res := make([]linalg.Vector, len(rs))
	for i, r := range rs {
		res[i] = r.Output()
	}
	return res
}
