package styletransfer

import (
	"fmt"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
)

// TeacherForce runs the generator on ground-truth inputs,
// starting from h0.
//
// The result joins h0 with the (dropped out) output of
// every step, giving len(inputs)+1 hidden states.
func (m *Model) TeacherForce(h0 autofunc.Result, inputs []autofunc.Result) autofunc.Result {
	return autofunc.Pool(h0, func(h0 autofunc.Result) autofunc.Result {
		if len(inputs) == 0 {
			return h0
		}
		return autofunc.Concat(h0, m.teacherSteps(h0, inputs))
	})
}

func (m *Model) teacherSteps(state autofunc.Result, inputs []autofunc.Result) autofunc.Result {
	next := m.Generator.Step(inputs[0], state)
	return autofunc.Pool(next, func(next autofunc.Result) autofunc.Result {
		out := m.OutputDropout.Apply(next)
		if len(inputs) == 1 {
			return out
		}
		return autofunc.Concat(out, m.teacherSteps(next, inputs[1:]))
	})
}

// SoftRollout generates maxLen hidden states from h0,
// feeding back the expected embedding of each step's
// output distribution instead of a sampled token.
//
// The result joins h0 with the generated states, giving
// maxLen+1 hidden states. Every operation is
// differentiable, including the token feedback.
//
// A non-positive maxLen yields an ErrInvalidParams error.
func (m *Model) SoftRollout(h0 autofunc.Result, maxLen int,
	temperature float64) (autofunc.Result, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("%w: rollout length %d", ErrInvalidParams, maxLen)
	}
	goToken := m.Vocab.Embed(m.Vocab.ID(GoToken))
	return autofunc.Pool(h0, func(h0 autofunc.Result) autofunc.Result {
		return autofunc.Concat(h0, m.softSteps(h0, goToken, maxLen, temperature))
	}), nil
}

// SoftRolloutBatch applies SoftRollout to every hidden
// state of a batch. The batch size is len(hs).
func (m *Model) SoftRolloutBatch(hs []autofunc.Result, maxLen int,
	temperature float64) ([]autofunc.Result, error) {
	res := make([]autofunc.Result, len(hs))
	for i, h := range hs {
		r, err := m.SoftRollout(h, maxLen, temperature)
		if err != nil {
			return nil, err
		}
		res[i] = r
	}
	return res, nil
}

func (m *Model) softSteps(state, token autofunc.Result, steps int,
	temperature float64) autofunc.Result {
	next := m.Generator.Step(token, state)
	return autofunc.Pool(next, func(next autofunc.Result) autofunc.Result {
		if steps == 1 {
			return next
		}
		nextToken := m.softToken(next, temperature)
		return autofunc.Concat(next, m.softSteps(next, nextToken, steps-1, temperature))
	})
}

// softToken computes the expected embedding under the
// tempered output distribution of a hidden state.
func (m *Model) softToken(h autofunc.Result, temperature float64) autofunc.Result {
	logits := m.HiddenToVocab.Apply(m.OutputDropout.Apply(h))
	softmax := autofunc.Softmax{Temperature: temperature}
	probs := softmax.Apply(logits)
	return expectedEmbedding(m.Vocab, probs)
}

// ReconstructionLoss sums the cross-entropy of every
// target under the projected states of a TeacherForce
// trajectory. State t+1 predicts targets[t].
func (m *Model) ReconstructionLoss(traj autofunc.Result, targets []int) autofunc.Result {
	hidden := m.HiddenSize()
	if len(traj.Output()) != (len(targets)+1)*hidden {
		panic("trajectory does not match targets")
	}
	return autofunc.Pool(traj, func(traj autofunc.Result) autofunc.Result {
		var sum autofunc.Result
		for t, target := range targets {
			state := autofunc.Slice(traj, (t+1)*hidden, (t+2)*hidden)
			loss := crossEntropy(m.HiddenToVocab.Apply(state), target)
			if sum == nil {
				sum = loss
			} else {
				sum = autofunc.Add(sum, loss)
			}
		}
		return sum
	})
}

// expectedEmbedding computes sum_i probs[i]*embedding(i).
func expectedEmbedding(v *Vocabulary, probs autofunc.Result) autofunc.Result {
	p := probs.Output()
	size := v.EmbeddingSize
	out := make(linalg.Vector, size)
	for i, prob := range p {
		row := v.Embeddings.Vector[i*size : (i+1)*size]
		out.Add(row.Copy().Scale(prob))
	}
	return &expectedEmbeddingRes{
		Vocab:     v,
		Probs:     probs,
		OutputVec: out,
	}
}

type expectedEmbeddingRes struct {
	Vocab     *Vocabulary
	Probs     autofunc.Result
	OutputVec linalg.Vector
}

func (e *expectedEmbeddingRes) Output() linalg.Vector {
	return e.OutputVec
}

func (e *expectedEmbeddingRes) Constant(g autofunc.Gradient) bool {
	return e.Probs.Constant(g) && e.Vocab.Embeddings.Constant(g)
}

func (e *expectedEmbeddingRes) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	size := e.Vocab.EmbeddingSize
	table := e.Vocab.Embeddings.Vector
	if tableGrad, ok := g[e.Vocab.Embeddings]; ok {
		for i, prob := range e.Probs.Output() {
			tableGrad[i*size : (i+1)*size].Add(upstream.Copy().Scale(prob))
		}
	}
	if !e.Probs.Constant(g) {
		probGrad := make(linalg.Vector, len(e.Probs.Output()))
		for i := range probGrad {
			probGrad[i] = table[i*size : (i+1)*size].Dot(upstream)
		}
		e.Probs.PropagateGradient(probGrad, g)
	}
}
