package styletransfer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
)

func vectorsClose(v1, v2 linalg.Vector) bool {
	if len(v1) != len(v2) {
		return false
	}
	for i, x := range v1 {
		if math.Abs(x-v2[i]) > 1e-5 {
			return false
		}
	}
	return true
}

func randomVector(size int) linalg.Vector {
	res := make(linalg.Vector, size)
	for i := range res {
		res[i] = rand.NormFloat64()
	}
	return res
}

// testParams returns tiny hyper-parameters so that tests
// and gradient checks run quickly.
func testParams() *Params {
	p := DefaultParams()
	p.EmbeddingSize = 4
	p.DimY = 2
	p.DimZ = 2
	p.BatchSize = 4
	p.Epochs = 1
	p.MaxLen = 3
	p.BeamWidth = 2
	p.DiscChannels = 2
	p.KernelSizes = []int{1, 2}
	p.LogInterval = 1
	p.DecodeWorkers = 2
	return p
}

func testModel(t testing.TB, p *Params) *Model {
	vocab := NewVocabulary([]string{"a", "b", "c"}, p.EmbeddingSize)
	m, err := NewModel(p, vocab)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func testBatch() *Batch {
	return &Batch{
		Sentences: []string{"a b c", "b c a", "c a b", "a c b"},
		Labels:    []int{0, 0, 1, 1},
	}
}

func copyParameters(vars []*autofunc.Variable) []linalg.Vector {
	res := make([]linalg.Vector, len(vars))
	for i, v := range vars {
		res[i] = v.Vector.Copy()
	}
	return res
}

func parametersEqual(vars []*autofunc.Variable, saved []linalg.Vector) bool {
	for i, v := range vars {
		if !vectorsClose(v.Vector, saved[i]) {
			return false
		}
	}
	return true
}
