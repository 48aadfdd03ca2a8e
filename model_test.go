package styletransfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/unixpickle/serializer"
)

func TestVocabulary(t *testing.T) {
	v := NewVocabulary([]string{"a", "b", "a", EOSToken, "c"}, 3)
	expected := []string{GoToken, EOSToken, UnknownToken, "a", "b", "c"}
	if v.Len() != len(expected) {
		t.Fatalf("expected %d tokens but got %d", len(expected), v.Len())
	}
	for id, token := range expected {
		if v.Token(id) != token || v.ID(token) != id {
			t.Errorf("token %d should be %q", id, token)
		}
	}
	if v.ID("missing") != v.ID(UnknownToken) {
		t.Error("unknown tokens should map to the unknown id")
	}
	if v.Contains("missing") || !v.Contains("b") {
		t.Error("unexpected Contains result")
	}
	if len(v.Embeddings.Vector) != 3*v.Len() {
		t.Errorf("bad embedding table size %d", len(v.Embeddings.Vector))
	}
	row := v.Embed(v.ID("b")).Output()
	if !vectorsClose(row, v.Embeddings.Vector[12:15]) {
		t.Error("embedding should be the token's table row")
	}
}

func TestVocabularySerialize(t *testing.T) {
	v := NewVocabulary([]string{"a", "b", "c"}, 2)
	data, err := v.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DeserializeVocabulary(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Len() != v.Len() || decoded.EmbeddingSize != v.EmbeddingSize {
		t.Fatalf("expected %d tokens of size %d but got %d of size %d", v.Len(),
			v.EmbeddingSize, decoded.Len(), decoded.EmbeddingSize)
	}
	for id := 0; id < v.Len(); id++ {
		if decoded.Token(id) != v.Token(id) || decoded.ID(v.Token(id)) != id {
			t.Errorf("token %d: expected %q but got %q", id, v.Token(id), decoded.Token(id))
		}
	}
	if !vectorsClose(decoded.Embeddings.Vector, v.Embeddings.Vector) {
		t.Error("embedding table changed")
	}

	mismatched, err := serializer.SerializeAny(serializer.String("a\nb"),
		serializer.Int(2), serializer.Float64Slice{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DeserializeVocabulary(mismatched); err == nil {
		t.Error("expected error for a mismatched embedding table")
	}
}

func TestLoadVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte("the 100\ncat 20\n\ndog\n"), 0644); err != nil {
		t.Fatal(err)
	}
	v, err := LoadVocabulary(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, token := range []string{"the", "cat", "dog", GoToken} {
		if !v.Contains(token) {
			t.Errorf("missing token %q", token)
		}
	}
	if v.Len() != 6 {
		t.Errorf("expected 6 tokens but got %d", v.Len())
	}
}

func TestModelSerialize(t *testing.T) {
	p := testParams()
	m := testModel(t, p)
	m.SetTraining(false)

	data, err := m.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DeserializeModel(data)
	if err != nil {
		t.Fatal(err)
	}
	decoded.SetTraining(false)
	checkModelsEqual(t, m, decoded)
}

func TestModelSaveLoad(t *testing.T) {
	p := testParams()
	m := testModel(t, p)
	m.SetTraining(false)

	path := filepath.Join(t.TempDir(), "model")
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}
	loaded.SetTraining(false)
	checkModelsEqual(t, m, loaded)

	if _, err := LoadModel(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing checkpoint")
	}
}

func checkModelsEqual(t *testing.T, expected, actual *Model) {
	if actual.DimY != expected.DimY || actual.DimZ != expected.DimZ {
		t.Fatal("dimensions changed")
	}
	expParams := expected.AutoencoderParameters()
	actParams := actual.AutoencoderParameters()
	if len(expParams) != len(actParams) {
		t.Fatal("parameter count changed")
	}
	if !parametersEqual(actParams, copyParameters(expParams)) {
		t.Error("autoencoder parameters changed")
	}
	for label := 0; label < 2; label++ {
		if !parametersEqual(actual.DiscriminatorParameters(label),
			copyParameters(expected.DiscriminatorParameters(label))) {
			t.Errorf("discriminator %d parameters changed", label)
		}
	}

	h := randomVector(expected.HiddenSize())
	token := expected.Vocab.ID("a")
	expNext, expProbs := expected.NextToken(token, h, 0.5)
	actNext, actProbs := actual.NextToken(token, h, 0.5)
	if !vectorsClose(expNext, actNext) || !vectorsClose(expProbs, actProbs) {
		t.Error("generator outputs changed")
	}
}
