package styletransfer

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/serializer"
)

// Reserved tokens. EOS doubles as padding.
const (
	GoToken      = "<go>"
	EOSToken     = "<eos>"
	UnknownToken = "<unk>"
)

func init() {
	var v Vocabulary
	serializer.RegisterTypedDeserializer(v.SerializerType(), DeserializeVocabulary)
}

// A Vocabulary maps tokens to ids and ids to trainable
// embedding vectors.
type Vocabulary struct {
	tokens []string
	ids    map[string]int

	// Embeddings stores one row of EmbeddingSize values
	// per token, in id order.
	Embeddings    *autofunc.Variable
	EmbeddingSize int
}

// NewVocabulary creates a vocabulary with randomly
// initialized embeddings.
// Reserved tokens are added if tokens lacks them, and
// duplicates are ignored. Tokens may not contain
// newlines.
func NewVocabulary(tokens []string, embeddingSize int) *Vocabulary {
	v := &Vocabulary{ids: map[string]int{}, EmbeddingSize: embeddingSize}
	for _, t := range append([]string{GoToken, EOSToken, UnknownToken}, tokens...) {
		if _, ok := v.ids[t]; ok {
			continue
		}
		v.ids[t] = len(v.tokens)
		v.tokens = append(v.tokens, t)
	}
	vec := make(linalg.Vector, len(v.tokens)*embeddingSize)
	for i := range vec {
		vec[i] = rand.NormFloat64()
	}
	v.Embeddings = &autofunc.Variable{Vector: vec}
	return v
}

// LoadVocabulary reads a vocabulary file with one token
// per line. Only the first whitespace-separated field of
// each line is used, so "token count" files also work.
func LoadVocabulary(path string, embeddingSize int) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			tokens = append(tokens, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, essentials.AddCtx("load vocabulary", err)
	}
	return NewVocabulary(tokens, embeddingSize), nil
}

// DeserializeVocabulary deserializes a Vocabulary.
func DeserializeVocabulary(d []byte) (*Vocabulary, error) {
	var tokens serializer.String
	var size serializer.Int
	var table serializer.Float64Slice
	if err := serializer.DeserializeAny(d, &tokens, &size, &table); err != nil {
		return nil, essentials.AddCtx("deserialize Vocabulary", err)
	}
	list := strings.Split(string(tokens), "\n")
	if len(table) != len(list)*int(size) {
		return nil, errors.New("deserialize Vocabulary: embedding table size mismatch")
	}
	v := &Vocabulary{
		tokens:        list,
		ids:           map[string]int{},
		Embeddings:    &autofunc.Variable{Vector: linalg.Vector(table)},
		EmbeddingSize: int(size),
	}
	for i, t := range list {
		v.ids[t] = i
	}
	return v, nil
}

// Len returns the number of tokens.
func (v *Vocabulary) Len() int {
	return len(v.tokens)
}

// ID returns the id of a token, falling back to the
// unknown token.
func (v *Vocabulary) ID(token string) int {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return v.ids[UnknownToken]
}

// IDs maps every token to its id.
func (v *Vocabulary) IDs(tokens []string) []int {
	res := make([]int, len(tokens))
	for i, t := range tokens {
		res[i] = v.ID(t)
	}
	return res
}

// Token returns the token for an id.
func (v *Vocabulary) Token(id int) string {
	return v.tokens[id]
}

// Contains checks if a token is part of the vocabulary.
func (v *Vocabulary) Contains(token string) bool {
	_, ok := v.ids[token]
	return ok
}

// Embed returns the trainable embedding for an id.
func (v *Vocabulary) Embed(id int) autofunc.Result {
	if id < 0 || id >= len(v.tokens) {
		panic(fmt.Sprintf("token id out of range: %d", id))
	}
	start := id * v.EmbeddingSize
	return &embeddingRes{
		Table:  v.Embeddings,
		Start:  start,
		Vector: v.Embeddings.Vector[start : start+v.EmbeddingSize],
	}
}

// Parameters returns the embedding table.
func (v *Vocabulary) Parameters() []*autofunc.Variable {
	return []*autofunc.Variable{v.Embeddings}
}

// SerializerType returns the unique ID used to serialize
// Vocabularies with the serializer package.
func (v *Vocabulary) SerializerType() string {
	return "github.com/unixpickle/styletransfer.Vocabulary"
}

// Serialize serializes the tokens and their embeddings.
func (v *Vocabulary) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.String(strings.Join(v.tokens, "\n")),
		serializer.Int(v.EmbeddingSize),
		serializer.Float64Slice(v.Embeddings.Vector),
	)
}

// embeddingRes is a row lookup in the embedding table.
// Unlike autofunc.Slice, it accumulates gradients into
// the table row without materializing a gradient for
// the whole table.
type embeddingRes struct {
	Table  *autofunc.Variable
	Start  int
	Vector linalg.Vector
}

func (e *embeddingRes) Output() linalg.Vector {
	return e.Vector
}

func (e *embeddingRes) Constant(g autofunc.Gradient) bool {
	return e.Table.Constant(g)
}

func (e *embeddingRes) PropagateGradient(upstream linalg.Vector, g autofunc.Gradient) {
	if grad, ok := g[e.Table]; ok {
		grad[e.Start : e.Start+len(upstream)].Add(upstream)
	}
}
