package styletransfer

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAdversarialWeight(t *testing.T) {
	p := testParams()
	p.MaxDLoss = 1.2
	p.Lambda = 0.5
	tests := []struct {
		d0, d1 float64
		weight float64
		gated  bool
	}{
		{0.5, 0.5, 0.5, false},
		{1.19, 0.1, 0.5, false},
		{1.2, 0.1, 0, true},
		{0.1, 1.3, 0, true},
		{2, 2, 0, true},
	}
	for _, tt := range tests {
		weight, gated := adversarialWeight(tt.d0, tt.d1, p)
		assert.Equal(t, tt.weight, weight, "d0=%f d1=%f", tt.d0, tt.d1)
		assert.Equal(t, tt.gated, gated, "d0=%f d1=%f", tt.d0, tt.d1)
	}
}

func TestTrainBatchEndToEnd(t *testing.T) {
	p := testParams()
	m := testModel(t, p)
	reg := prometheus.NewRegistry()
	trainer, err := NewTrainer(m, p, zap.NewNop(), NewMetrics(reg))
	require.NoError(t, err)

	losses, err := trainer.TrainBatch(testBatch())
	require.NoError(t, err)
	require.Len(t, losses, 5)
	for name, x := range losses {
		assert.False(t, math.IsNaN(x) || math.IsInf(x, 0), "%s loss is %f", name, x)
	}
	assert.Greater(t, losses[LossReconstruction], 0.0)
	assert.Equal(t, 1, trainer.Steps())
	assert.Equal(t, 1.0, testutil.ToFloat64(trainer.Metrics.Steps))
	assert.Equal(t, losses[LossReconstruction],
		testutil.ToFloat64(trainer.Metrics.Loss.WithLabelValues(LossReconstruction)))

	// The model is still in training mode here; decoding
	// must not depend on it.
	require.True(t, m.Training())
	decoder, err := NewBeamDecoder(m, p)
	require.NoError(t, err)
	batch := testBatch()
	original, transformed, err := decoder.Rewrite(context.Background(),
		batch.Sentences, batch.Labels)
	require.NoError(t, err)
	original2, transformed2, err := decoder.Rewrite(context.Background(),
		batch.Sentences, batch.Labels)
	require.NoError(t, err)
	assert.Equal(t, original, original2)
	assert.Equal(t, transformed, transformed2)
	assert.True(t, m.Training())

	m.SetTraining(false)
	original3, transformed3, err := decoder.Rewrite(context.Background(),
		batch.Sentences, batch.Labels)
	require.NoError(t, err)
	assert.Equal(t, original, original3)
	assert.Equal(t, transformed, transformed3)
	for _, sentences := range [][]string{original, transformed} {
		require.Len(t, sentences, 4)
		for _, s := range sentences {
			tokens := strings.Fields(s)
			assert.LessOrEqual(t, len(tokens), p.MaxLen)
			for _, token := range tokens {
				assert.True(t, m.Vocab.Contains(token), token)
			}
		}
	}
}

func TestTrainBatchPhases(t *testing.T) {
	p := testParams()
	p.MaxDLoss = 100
	m := testModel(t, p)
	trainer, err := NewTrainer(m, p, nil, nil)
	require.NoError(t, err)

	disc0 := copyParameters(m.DiscriminatorParameters(0))
	disc1 := copyParameters(m.DiscriminatorParameters(1))
	ae := copyParameters(m.AutoencoderParameters())

	losses, err := trainer.TrainBatch(testBatch())
	require.NoError(t, err)
	assert.InDelta(t, losses[LossReconstruction]+p.Lambda*losses[LossGenerator],
		losses[LossAutoencoder], 1e-8)

	assert.False(t, parametersEqual(m.DiscriminatorParameters(0), disc0))
	assert.False(t, parametersEqual(m.DiscriminatorParameters(1), disc1))
	assert.False(t, parametersEqual(m.AutoencoderParameters(), ae))
	for _, g := range append(trainer.groups[:], trainer.ae) {
		assert.Equal(t, 1, g.Steps(), g.Name)
	}
}

func TestTrainBatchGated(t *testing.T) {
	p := testParams()
	p.MaxDLoss = 0
	m := testModel(t, p)
	reg := prometheus.NewRegistry()
	trainer, err := NewTrainer(m, p, nil, NewMetrics(reg))
	require.NoError(t, err)

	losses, err := trainer.TrainBatch(testBatch())
	require.NoError(t, err)
	assert.Equal(t, losses[LossReconstruction], losses[LossAutoencoder])
	assert.Equal(t, 1.0, testutil.ToFloat64(trainer.Metrics.GatedSteps))
}

func TestTrainBatchMalformed(t *testing.T) {
	p := testParams()
	m := testModel(t, p)
	trainer, err := NewTrainer(m, p, nil, nil)
	require.NoError(t, err)

	ae := copyParameters(m.AutoencoderParameters())
	batch := &Batch{Sentences: []string{"a", "b", "c", "d"}, Labels: []int{0, 1, 1, 1}}
	_, err = trainer.TrainBatch(batch)
	assert.True(t, errors.Is(err, ErrMalformedBatch))
	assert.True(t, parametersEqual(m.AutoencoderParameters(), ae))
	assert.Equal(t, 0, trainer.Steps())
}

func TestTrainBatchDiverged(t *testing.T) {
	p := testParams()
	p.MaxLoss = 1e-9
	m := testModel(t, p)
	trainer, err := NewTrainer(m, p, nil, nil)
	require.NoError(t, err)

	ae := copyParameters(m.AutoencoderParameters())
	_, err = trainer.TrainBatch(testBatch())
	assert.True(t, errors.Is(err, ErrDiverged))
	assert.True(t, parametersEqual(m.AutoencoderParameters(), ae))
}

func TestEvaluate(t *testing.T) {
	p := testParams()
	m := testModel(t, p)
	trainer, err := NewTrainer(m, p, nil, nil)
	require.NoError(t, err)

	batch := testBatch()
	source, err := NewMemoryBatches(batch.Sentences[:2], batch.Sentences[2:], 4)
	require.NoError(t, err)

	params := copyParameters(m.AutoencoderParameters())
	first, err := trainer.Evaluate(source)
	require.NoError(t, err)
	second, err := trainer.Evaluate(source)
	require.NoError(t, err)

	assert.True(t, parametersEqual(m.AutoencoderParameters(), params))
	assert.InDelta(t, first[LossReconstruction]+p.Lambda*first[LossGenerator],
		first[LossAutoencoder], 1e-8)
	assert.InDelta(t, first[LossAutoencoder], second[LossAutoencoder], 1e-8)
	assert.True(t, m.Training())

	m.SetTraining(false)
	_, err = trainer.Evaluate(source)
	require.NoError(t, err)
	assert.False(t, m.Training(), "evaluation should restore inference mode")
}

func TestTrain(t *testing.T) {
	p := testParams()
	p.Epochs = 2
	p.SaveFile = filepath.Join(t.TempDir(), "model")
	m := testModel(t, p)
	trainer, err := NewTrainer(m, p, nil, nil)
	require.NoError(t, err)

	batch := testBatch()
	train, err := NewMemoryBatches(batch.Sentences[:2], batch.Sentences[2:], 2)
	require.NoError(t, err)
	valid, err := NewMemoryBatches(batch.Sentences[:2], batch.Sentences[2:], 4)
	require.NoError(t, err)

	require.NoError(t, trainer.Train(context.Background(), train, valid))
	assert.Equal(t, 4, trainer.Steps())

	loaded, err := LoadModel(p.SaveFile)
	require.NoError(t, err)
	assert.Equal(t, m.Vocab.Len(), loaded.Vocab.Len())
}

func TestTrainStreaming(t *testing.T) {
	p := testParams()
	p.InMemory = false
	p.StepsPerEpoch = 3
	m := testModel(t, p)
	trainer, err := NewTrainer(m, p, nil, nil)
	require.NoError(t, err)

	batch := testBatch()
	train, err := NewMemoryBatches(batch.Sentences[:2], batch.Sentences[2:], 2)
	require.NoError(t, err)
	require.NoError(t, trainer.Train(context.Background(), &repeatBatches{train}, nil))
	assert.Equal(t, 3, trainer.Steps())
}

func TestTrainCanceled(t *testing.T) {
	p := testParams()
	m := testModel(t, p)
	trainer, err := NewTrainer(m, p, nil, nil)
	require.NoError(t, err)

	batch := testBatch()
	train, err := NewMemoryBatches(batch.Sentences[:2], batch.Sentences[2:], 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = trainer.Train(ctx, train, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, trainer.Steps())
}

// repeatBatches restarts an in-memory source instead of
// ending an epoch.
type repeatBatches struct {
	*MemoryBatches
}

func (r *repeatBatches) Next() (*Batch, error) {
	b, err := r.MemoryBatches.Next()
	if err != nil {
		r.MemoryBatches.Reset()
		return r.MemoryBatches.Next()
	}
	return b, nil
}
