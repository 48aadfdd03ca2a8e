// Package styletransfer trains adversarially regularized
// autoencoders which rewrite sentences from one style
// to another.
//
// An encoder compresses a sentence into a content vector,
// a generator decodes that vector conditioned on a style
// label, and one discriminator per style pushes generated
// hidden-state sequences towards the real ones.
package styletransfer

import "github.com/unixpickle/autofunc"

// A Cell is a recurrent unit used both as the encoder and
// as the generator.
type Cell interface {
	// InputSize is the size of each input vector.
	InputSize() int

	// StateSize is the size of the hidden state.
	StateSize() int

	// Step applies the cell for a single timestep and
	// returns the next hidden state.
	//
	// The state argument may be used more than once by
	// the cell, so callers should pass a pooled result
	// (see autofunc.Pool) when it is expensive to
	// back-propagate through.
	Step(in, state autofunc.Result) autofunc.Result
}

// A Discriminator classifies a sequence of hidden states
// as real or generated for one style.
type Discriminator interface {
	// Score returns a single logit for a sequence of
	// hidden states, joined end to end into one vector.
	// Positive logits mean "real".
	Score(seq autofunc.Result) autofunc.Result
}

// A Trainable is a component whose stochastic layers
// behave differently during training.
type Trainable interface {
	SetTraining(training bool)
}
