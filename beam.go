package styletransfer

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"golang.org/x/sync/semaphore"
)

// A BeamState is one candidate sentence in a beam.
type BeamState struct {
	// Token is the most recent token id, which is fed to
	// the generator at the next step.
	Token int

	// Hidden is the generator state after Token.
	Hidden linalg.Vector

	// Sentence lists the generated token ids.
	Sentence []int

	// NLL is the cumulative negative log-likelihood of
	// Sentence.
	NLL float64
}

// A BeamDecoder decodes hidden states into sentences with
// a fixed-width beam search.
//
// Decoding always runs for MaxLen steps; end tokens do
// not stop a beam early.
type BeamDecoder struct {
	Model       *Model
	Width       int
	MaxLen      int
	Temperature float64

	// Workers bounds how many batch elements are decoded
	// at once. Values below 1 mean one.
	Workers int
}

// NewBeamDecoder creates a decoder from the decoding
// parameters in p.
func NewBeamDecoder(m *Model, p *Params) (*BeamDecoder, error) {
	if err := p.validateDecoding(m.Vocab.Len()); err != nil {
		return nil, err
	}
	return &BeamDecoder{
		Model:       m,
		Width:       p.BeamWidth,
		MaxLen:      p.MaxLen,
		Temperature: p.Temperature,
		Workers:     p.DecodeWorkers,
	}, nil
}

// Rewrite encodes sentences and decodes them both with
// their own labels and with flipped labels.
func (b *BeamDecoder) Rewrite(ctx context.Context, sentences []string,
	labels []int) (original, transformed []string, err error) {
	inputs := Preprocess(b.Model.Vocab, sentences, b.MaxLen)
	embedded := make([][]autofunc.Result, len(inputs.Encoder))
	for i, ids := range inputs.Encoder {
		embedded[i] = b.Model.Embed(ids)
	}
	cond, err := b.Model.Compose(embedded, labels)
	if err != nil {
		return nil, nil, err
	}
	original, err = b.Decode(ctx, cond.OriginalVecs())
	if err != nil {
		return nil, nil, err
	}
	transformed, err = b.Decode(ctx, cond.TransformedVecs())
	if err != nil {
		return nil, nil, err
	}
	return original, transformed, nil
}

// Decode returns the best sentence for each initial
// hidden state, with tokens joined by spaces.
func (b *BeamDecoder) Decode(ctx context.Context, hs []linalg.Vector) ([]string, error) {
	ids, err := b.DecodeIDs(ctx, hs)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(ids))
	for i, sentence := range ids {
		tokens := make([]string, len(sentence))
		for j, id := range sentence {
			tokens[j] = b.Model.Vocab.Token(id)
		}
		res[i] = strings.Join(tokens, " ")
	}
	return res, nil
}

// DecodeIDs is like Decode, but returns token ids.
//
// Batch elements are independent and are decoded
// concurrently.
func (b *BeamDecoder) DecodeIDs(ctx context.Context, hs []linalg.Vector) ([][]int, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	res := make([][]int, len(hs))
	var wg sync.WaitGroup
	for i, h := range hs {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int, h linalg.Vector) {
			defer wg.Done()
			defer sem.Release(1)
			beam := b.Start(h)
			for t := 0; t < b.MaxLen; t++ {
				beam = b.Step(beam)
			}
			res[i] = beam[0].Sentence
		}(i, h)
	}
	wg.Wait()
	return res, nil
}

// Start creates the initial beam for a hidden state.
func (b *BeamDecoder) Start(h linalg.Vector) []*BeamState {
	return []*BeamState{{
		Token:  b.Model.Vocab.ID(GoToken),
		Hidden: h,
	}}
}

// Step expands every state in the beam by its Width most
// likely next tokens and keeps the Width candidates with
// the lowest NLL. Ties keep the order in which candidates
// were produced.
func (b *BeamDecoder) Step(beam []*BeamState) []*BeamState {
	var candidates []*BeamState
	for _, state := range beam {
		next, logProbs := b.Model.NextToken(state.Token, state.Hidden, b.Temperature)
		for _, id := range topK(logProbs, b.Width) {
			sentence := make([]int, len(state.Sentence), len(state.Sentence)+1)
			copy(sentence, state.Sentence)
			candidates = append(candidates, &BeamState{
				Token:    id,
				Hidden:   next,
				Sentence: append(sentence, id),
				NLL:      state.NLL - logProbs[id],
			})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].NLL < candidates[j].NLL
	})
	if len(candidates) > b.Width {
		candidates = candidates[:b.Width]
	}
	return candidates
}

func (b *BeamDecoder) validate() error {
	p := Params{MaxLen: b.MaxLen, BeamWidth: b.Width}
	return p.validateDecoding(b.Model.Vocab.Len())
}

// NextToken runs one generator step on constant inputs.
// It returns the next hidden state and the log of the
// tempered next-token distribution.
//
// Output dropout always runs in inference mode, whatever
// the training mode of the model.
func (m *Model) NextToken(token int, h linalg.Vector,
	temperature float64) (next, logProbs linalg.Vector) {
	state := &autofunc.Variable{Vector: h}
	next = m.Generator.Step(m.Vocab.Embed(token), state).Output()
	dropout := *m.OutputDropout
	dropout.Training = false
	out := dropout.Apply(&autofunc.Variable{Vector: next})
	logits := m.HiddenToVocab.Apply(out)
	logProbs = logSoftmax.Apply(autofunc.Scale(logits, 1/temperature)).Output()
	return
}

// topK returns the indices of the k largest values, from
// largest to smallest. Equal values keep index order.
func topK(v linalg.Vector, k int) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return v[idx[i]] > v[idx[j]]
	})
	return idx[:k]
}
