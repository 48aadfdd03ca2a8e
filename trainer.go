package styletransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"go.uber.org/zap"
)

// A Trainer optimizes a Model with three phases per
// batch: discriminator 0, discriminator 1, and then the
// encoder and generator together.
type Trainer struct {
	Model  *Model
	Params *Params

	// Logger may be nil.
	Logger *zap.Logger

	// Metrics may be nil.
	Metrics *Metrics

	groups [2]*Group
	ae     *Group
	steps  int
}

// NewTrainer creates a Trainer with fresh optimizer
// state for every parameter group.
func NewTrainer(m *Model, p *Params, logger *zap.Logger, metrics *Metrics) (*Trainer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trainer{
		Model:   m,
		Params:  p,
		Logger:  logger,
		Metrics: metrics,
		ae: NewGroup("autoencoder", m.AutoencoderParameters(), p.LearningRate,
			p.Beta1, p.Beta2, p.GradClip),
	}
	for i := range t.groups {
		t.groups[i] = NewGroup(fmt.Sprintf("discriminator%d", i),
			m.DiscriminatorParameters(i), p.DiscLearningRate, p.Beta1, p.Beta2, 0)
	}
	return t, nil
}

// Steps returns the number of completed training steps.
func (t *Trainer) Steps() int {
	return t.steps
}

// Train runs Params.Epochs epochs over train.
//
// In-memory sources end an epoch with io.EOF. Streaming
// sources are cut off after Params.StepsPerEpoch steps.
// After every epoch the model is evaluated on valid (if
// it is non-nil) and saved to Params.SaveFile (if it is
// set) whenever the validation loss improves.
//
// Cancelling ctx stops training between two steps.
func (t *Trainer) Train(ctx context.Context, train, valid BatchSource) error {
	best := math.Inf(1)
	for epoch := 0; epoch < t.Params.Epochs; epoch++ {
		train.Reset()
		var epochSteps int
		for t.Params.InMemory || epochSteps < t.Params.StepsPerEpoch {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := train.Next()
			if errors.Is(err, io.EOF) {
				break
			} else if err != nil {
				return err
			}
			if _, err := t.TrainBatch(batch); err != nil {
				return fmt.Errorf("epoch %d step %d: %w", epoch, t.steps, err)
			}
			epochSteps++
		}
		t.Logger.Info("finished epoch", zap.Int("epoch", epoch), zap.Int("steps", epochSteps))

		score := -float64(epoch)
		if valid != nil {
			losses, err := t.Evaluate(valid)
			if err != nil {
				return err
			}
			score = losses[LossAutoencoder]
			t.Logger.Info("validation", zap.Int("epoch", epoch),
				zap.Stringer("losses", losses))
		}
		if t.Params.SaveFile != "" && score < best {
			if err := t.Model.Save(t.Params.SaveFile); err != nil {
				return err
			}
			t.Logger.Info("saved model", zap.String("path", t.Params.SaveFile))
		}
		best = math.Min(best, score)
	}
	return nil
}

// TrainBatch performs one training step on a batch.
//
// The batch is validated before any parameter changes.
// If a loss diverges, the phase that produced it is not
// applied and an ErrDiverged error is returned.
func (t *Trainer) TrainBatch(b *Batch) (Losses, error) {
	negative, positive, err := b.Partition()
	if err != nil {
		return nil, err
	}
	t.Model.SetTraining(true)

	// Every phase runs its own forward pass, so later
	// phases see the parameters updated by earlier ones.
	// The discriminator phases see detached sequences, so
	// their losses only reach their own parameters.
	halves := [2][]int{negative, positive}
	var dLosses [2]float64
	for label := range t.groups {
		f, err := t.forward(b)
		if err != nil {
			return nil, err
		}
		loss, _ := t.discriminatorLosses(label, pick(detach(f.teacher), halves[label]),
			pick(detach(f.soft), halves[1-label]))
		dLosses[label] = scalar(loss)
		if err := applyPhase(t.groups[label], loss); err != nil {
			return nil, err
		}
	}

	inputs, cond, err := t.compose(b)
	if err != nil {
		return nil, err
	}
	weight, gated := adversarialWeight(dLosses[0], dLosses[1], t.Params)
	var rec, gen autofunc.Result
	autoencoder := cond.Pool(func(c *Conditioning) autofunc.Result {
		f, trajErr := t.trajectories(inputs, c)
		if trajErr != nil {
			err = trajErr
			return &autofunc.Variable{Vector: linalg.Vector{0}}
		}
		rec = t.reconstruction(f)
		_, gen0 := t.discriminatorLosses(0, nil, pick(f.soft, positive))
		_, gen1 := t.discriminatorLosses(1, nil, pick(f.soft, negative))
		gen = autofunc.Add(gen0, gen1)
		if gated {
			return rec
		}
		return autofunc.Add(rec, autofunc.Scale(gen, weight))
	})
	if err != nil {
		return nil, err
	}
	losses := Losses{
		LossReconstruction: scalar(rec),
		LossDiscriminator0: dLosses[0],
		LossDiscriminator1: dLosses[1],
		LossGenerator:      scalar(gen),
		LossAutoencoder:    scalar(autoencoder),
	}
	if err := t.checkLosses(losses); err != nil {
		return nil, err
	}
	norm, _ := t.ae.Step(autoencoder)

	t.steps++
	if t.Metrics != nil {
		t.Metrics.observe(losses, gated, norm)
	}
	if t.Params.LogInterval > 0 && t.steps%t.Params.LogInterval == 0 {
		t.Logger.Debug("training losses", zap.Int("step", t.steps),
			zap.Stringer("losses", losses), zap.Float64("gradNorm", norm),
			zap.Bool("gated", gated))
	}
	return losses, nil
}

// EvaluateBatch computes the losses of a batch with
// dropout disabled and without updating any parameters.
// The autoencoder loss always includes the weighted
// generator loss. The training mode of the model is
// restored afterwards.
func (t *Trainer) EvaluateBatch(b *Batch) (Losses, error) {
	negative, positive, err := b.Partition()
	if err != nil {
		return nil, err
	}
	defer t.Model.SetTraining(t.Model.Training())
	t.Model.SetTraining(false)

	f, err := t.forward(b)
	if err != nil {
		return nil, err
	}
	d0, gen0 := t.discriminatorLosses(0, pick(f.teacher, negative), pick(f.soft, positive))
	d1, gen1 := t.discriminatorLosses(1, pick(f.teacher, positive), pick(f.soft, negative))
	rec := scalar(t.reconstruction(f))
	gen := scalar(gen0) + scalar(gen1)
	losses := Losses{
		LossReconstruction: rec,
		LossDiscriminator0: scalar(d0),
		LossDiscriminator1: scalar(d1),
		LossGenerator:      gen,
		LossAutoencoder:    rec + t.Params.Lambda*gen,
	}
	return losses, losses.Check()
}

// Evaluate averages the batch losses of one epoch of a
// batch source.
func (t *Trainer) Evaluate(source BatchSource) (Losses, error) {
	source.Reset()
	sum := Losses{}
	var count int
	for t.Params.InMemory || count < t.Params.StepsPerEpoch {
		batch, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		losses, err := t.EvaluateBatch(batch)
		if err != nil {
			return nil, err
		}
		for name, value := range losses {
			sum[name] += value
		}
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: no evaluation batches", ErrMalformedBatch)
	}
	for name := range sum {
		sum[name] /= float64(count)
	}
	return sum, nil
}

// adversarialWeight returns the weight of the generator
// loss in the autoencoder loss. The loss is gated (weight
// zero) unless both discriminator losses are below
// Params.MaxDLoss.
func adversarialWeight(d0, d1 float64, p *Params) (weight float64, gated bool) {
	if d0 < p.MaxDLoss && d1 < p.MaxDLoss {
		return p.Lambda, false
	}
	return 0, true
}

// forwardPass stores the trajectories of a batch.
type forwardPass struct {
	inputs *Inputs

	// teacher[i] is the teacher-forced trajectory of the
	// original hidden state of sentence i.
	teacher []autofunc.Result

	// soft[i] is the soft rollout of the transformed
	// hidden state of sentence i.
	soft []autofunc.Result
}

func (t *Trainer) forward(b *Batch) (*forwardPass, error) {
	inputs, cond, err := t.compose(b)
	if err != nil {
		return nil, err
	}
	return t.trajectories(inputs, cond)
}

func (t *Trainer) compose(b *Batch) (*Inputs, *Conditioning, error) {
	m := t.Model
	inputs := Preprocess(m.Vocab, b.Sentences, t.Params.MaxLen)
	embedded := make([][]autofunc.Result, len(inputs.Encoder))
	for i, ids := range inputs.Encoder {
		embedded[i] = m.Embed(ids)
	}
	cond, err := m.Compose(embedded, b.Labels)
	if err != nil {
		return nil, nil, err
	}
	return inputs, cond, nil
}

func (t *Trainer) trajectories(inputs *Inputs, cond *Conditioning) (*forwardPass, error) {
	m := t.Model
	f := &forwardPass{inputs: inputs}
	for i, ids := range inputs.Generator {
		f.teacher = append(f.teacher, m.TeacherForce(cond.Original[i], m.Embed(ids)))
	}
	soft, err := m.SoftRolloutBatch(cond.Transformed, t.Params.MaxLen, t.Params.Temperature)
	if err != nil {
		return nil, err
	}
	f.soft = soft
	return f, nil
}

// reconstruction averages the cross-entropy over every
// target position in the batch.
func (t *Trainer) reconstruction(f *forwardPass) autofunc.Result {
	var total []autofunc.Result
	for i, traj := range f.teacher {
		total = append(total, t.Model.ReconstructionLoss(traj, f.inputs.Targets[i]))
	}
	sum := total[0]
	for _, r := range total[1:] {
		sum = autofunc.Add(sum, r)
	}
	return autofunc.Scale(sum, 1/float64(f.inputs.Positions()))
}

// discriminatorLosses scores real and fake sequences with
// one discriminator. If real is empty, disc is nil.
func (t *Trainer) discriminatorLosses(label int, real,
	fake []autofunc.Result) (disc, gen autofunc.Result) {
	d := t.Model.Discriminators[label]
	var realScores, fakeScores []autofunc.Result
	for _, seq := range real {
		realScores = append(realScores, d.Score(seq))
	}
	for _, seq := range fake {
		fakeScores = append(fakeScores, d.Score(seq))
	}
	if len(realScores) == 0 {
		var genLosses []autofunc.Result
		for _, s := range fakeScores {
			genLosses = append(genLosses, logitLoss(s, true))
		}
		return nil, mean(genLosses)
	}
	return adversarialLosses(realScores, fakeScores)
}

// applyPhase checks a phase loss and steps its group.
func applyPhase(g *Group, loss autofunc.Result) error {
	x := scalar(loss)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fmt.Errorf("%w: %s loss is %f", ErrDiverged, g.Name, x)
	}
	g.Step(loss)
	return nil
}

func (t *Trainer) checkLosses(l Losses) error {
	if err := l.Check(); err != nil {
		return err
	}
	if x := l[LossAutoencoder]; x > t.Params.MaxLoss {
		return fmt.Errorf("%w: autoencoder loss %f exceeds %f", ErrDiverged, x,
			t.Params.MaxLoss)
	}
	return nil
}

func detach(rs []autofunc.Result) []autofunc.Result {
	res := make([]autofunc.Result, len(rs))
	for i, r := range rs {
		res[i] = &autofunc.Variable{Vector: r.Output()}
	}
	return res
}

func pick(rs []autofunc.Result, indices []int) []autofunc.Result {
	res := make([]autofunc.Result, len(indices))
	for i, idx := range indices {
		res[i] = rs[idx]
	}
	return res
}
