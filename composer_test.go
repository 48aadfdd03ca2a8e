package styletransfer

import (
	"errors"
	"testing"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
)

func TestComposeContentAndStyle(t *testing.T) {
	p := testParams()
	m := testModel(t, p)
	m.SetTraining(false)

	inputs := Preprocess(m.Vocab, []string{"a b", "c a b", "b"}, p.MaxLen)
	var embedded [][]autofunc.Result
	for _, ids := range inputs.Encoder {
		embedded = append(embedded, m.Embed(ids))
	}
	labels := []int{0, 1, 1}
	cond, err := m.Compose(embedded, labels)
	if err != nil {
		t.Fatal(err)
	}
	if cond.Len() != 3 {
		t.Fatalf("expected 3 elements but got %d", cond.Len())
	}

	originals := cond.OriginalVecs()
	transformed := cond.TransformedVecs()
	for i, label := range labels {
		if len(originals[i]) != m.HiddenSize() {
			t.Fatalf("element %d: bad hidden size %d", i, len(originals[i]))
		}
		origStyle, origContent := m.SplitHidden(originals[i])
		transStyle, transContent := m.SplitHidden(transformed[i])
		if !vectorsClose(origContent, transContent) {
			t.Errorf("element %d: content differs between original and transformed", i)
		}
		if !vectorsClose(origContent, cond.Content[i].Output()) {
			t.Errorf("element %d: content does not match encoder output", i)
		}
		expected := labelStyle(m.GeneratorLabels, float64(label)).Output()
		if !vectorsClose(origStyle, expected) {
			t.Errorf("element %d: original style should come from label %d", i, label)
		}
		expected = labelStyle(m.GeneratorLabels, float64(1-label)).Output()
		if !vectorsClose(transStyle, expected) {
			t.Errorf("element %d: transformed style should come from label %d", i, 1-label)
		}
	}
}

func TestComposeLabelIndependentContent(t *testing.T) {
	p := testParams()
	m := testModel(t, p)

	seq := m.Embed(m.Vocab.IDs([]string{"a", "c"}))
	cond, err := m.Compose([][]autofunc.Result{seq, seq}, []int{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	style0, _ := m.SplitHidden(cond.OriginalVecs()[0])
	style1, _ := m.SplitHidden(cond.TransformedVecs()[1])
	if !vectorsClose(style0, style1) {
		t.Error("label 0 style should match the flipped style of label 1")
	}
}

func TestComposeErrors(t *testing.T) {
	m := testModel(t, testParams())
	seq := m.Embed([]int{3})
	if _, err := m.Compose([][]autofunc.Result{seq}, []int{0, 1}); !errors.Is(err, ErrMalformedBatch) {
		t.Errorf("expected malformed batch error but got %v", err)
	}
	if _, err := m.Compose([][]autofunc.Result{seq}, []int{2}); !errors.Is(err, ErrMalformedBatch) {
		t.Errorf("expected malformed batch error but got %v", err)
	}
}

type countingResult struct {
	autofunc.Result
	calls int
}

func (c *countingResult) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	c.calls++
	c.Result.PropagateGradient(upstream, g)
}

func TestConditioningPool(t *testing.T) {
	p := testParams()
	m := testModel(t, p)
	m.SetTraining(false)

	inputs := Preprocess(m.Vocab, []string{"a b", "c"}, p.MaxLen)
	var embedded [][]autofunc.Result
	for _, ids := range inputs.Encoder {
		embedded = append(embedded, m.Embed(ids))
	}
	labels := []int{1, 0}
	cond, err := m.Compose(embedded, labels)
	if err != nil {
		t.Fatal(err)
	}
	joined := func(c *Conditioning) autofunc.Result {
		return autofunc.Concat(append(append([]autofunc.Result{}, c.Original...),
			c.Transformed...)...)
	}

	counters := make([]*countingResult, len(cond.Content))
	content := make([]autofunc.Result, len(cond.Content))
	for i, c := range cond.Content {
		counters[i] = &countingResult{Result: c}
		content[i] = counters[i]
	}
	pooled := m.condition(labels, content).Pool(joined)
	unpooled := joined(cond)
	if !vectorsClose(pooled.Output(), unpooled.Output()) {
		t.Fatal("pooled output differs")
	}

	vars := m.AutoencoderParameters()
	upstream := randomVector(len(pooled.Output()))
	expected := autofunc.NewGradient(vars)
	unpooled.PropagateGradient(upstream, expected)
	actual := autofunc.NewGradient(vars)
	pooled.PropagateGradient(upstream, actual)

	for i, c := range counters {
		if c.calls != 1 {
			t.Errorf("content %d: back-propagated %d times", i, c.calls)
		}
	}
	for _, v := range vars {
		if !vectorsClose(actual[v], expected[v]) {
			t.Errorf("gradient mismatch: expected %v but got %v", expected[v], actual[v])
		}
	}
}
