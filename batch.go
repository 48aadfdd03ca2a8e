package styletransfer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/sgd"
)

// ErrMalformedBatch is returned (wrapped) for batches
// which cannot be trained on.
var ErrMalformedBatch = errors.New("malformed batch")

// A Batch is a list of sentences and their style labels.
type Batch struct {
	Sentences []string
	Labels    []int
}

// Validate checks that the batch has one label in {0, 1}
// per sentence and exactly as many sentences of each
// style.
func (b *Batch) Validate() error {
	_, _, err := b.Partition()
	return err
}

// Partition returns the indices of the sentences with
// label 0 and label 1, in batch order.
// Both halves must be non-empty and of equal size.
func (b *Batch) Partition() (negative, positive []int, err error) {
	if len(b.Sentences) != len(b.Labels) {
		return nil, nil, fmt.Errorf("%w: %d sentences but %d labels", ErrMalformedBatch,
			len(b.Sentences), len(b.Labels))
	}
	if len(b.Labels) == 0 || len(b.Labels)%2 != 0 {
		return nil, nil, fmt.Errorf("%w: batch size %d cannot be split in half",
			ErrMalformedBatch, len(b.Labels))
	}
	if err := validateLabels(b.Labels); err != nil {
		return nil, nil, err
	}
	for i, label := range b.Labels {
		if label == 0 {
			negative = append(negative, i)
		} else {
			positive = append(positive, i)
		}
	}
	if len(negative) != len(positive) {
		return nil, nil, fmt.Errorf("%w: %d negative and %d positive sentences",
			ErrMalformedBatch, len(negative), len(positive))
	}
	return negative, positive, nil
}

func validateLabels(labels []int) error {
	for i, label := range labels {
		if label != 0 && label != 1 {
			return fmt.Errorf("%w: label %d at index %d is not 0 or 1", ErrMalformedBatch,
				label, i)
		}
	}
	return nil
}

// Inputs stores the token ids derived from a list of
// sentences.
type Inputs struct {
	// Encoder holds the sentence tokens.
	Encoder [][]int

	// Generator holds the sentence tokens after <go>.
	Generator [][]int

	// Targets holds the sentence tokens before <eos>.
	Targets [][]int
}

// Positions counts the target tokens in the batch.
func (i *Inputs) Positions() int {
	var n int
	for _, t := range i.Targets {
		n += len(t)
	}
	return n
}

// Preprocess splits sentences on spaces, truncates them
// to maxLen tokens, and maps them to ids.
func Preprocess(v *Vocabulary, sentences []string, maxLen int) *Inputs {
	res := &Inputs{}
	goID, eosID := v.ID(GoToken), v.ID(EOSToken)
	for _, s := range sentences {
		tokens := strings.Fields(s)
		if len(tokens) > maxLen {
			tokens = tokens[:maxLen]
		}
		ids := v.IDs(tokens)
		res.Encoder = append(res.Encoder, ids)
		res.Generator = append(res.Generator, append([]int{goID}, ids...))
		res.Targets = append(res.Targets, append(append([]int{}, ids...), eosID))
	}
	return res
}

// A BatchSource produces training or evaluation batches.
type BatchSource interface {
	// Next returns the next batch, or io.EOF at the end
	// of an epoch.
	Next() (*Batch, error)

	// Reset starts a new epoch.
	Reset()
}

// MemoryBatches holds two corpora in memory and yields
// balanced batches, half from each corpus, after
// shuffling both corpora at the start of every epoch.
type MemoryBatches struct {
	corpora   [2]sgd.SliceSampleSet
	batchSize int
	offset    int
}

// NewMemoryBatches creates a MemoryBatches from the
// sentences of style 0 and style 1.
func NewMemoryBatches(style0, style1 []string, batchSize int) (*MemoryBatches, error) {
	if batchSize <= 0 || batchSize%2 != 0 {
		return nil, fmt.Errorf("%w: batch size %d cannot be split in half",
			ErrInvalidParams, batchSize)
	}
	res := &MemoryBatches{batchSize: batchSize}
	for i, corpus := range [][]string{style0, style1} {
		if len(corpus) < batchSize/2 {
			return nil, fmt.Errorf("%w: corpus %d has %d sentences, need at least %d",
				ErrMalformedBatch, i, len(corpus), batchSize/2)
		}
		res.corpora[i] = make(sgd.SliceSampleSet, len(corpus))
		for j, s := range corpus {
			res.corpora[i][j] = s
		}
	}
	res.Reset()
	return res, nil
}

// LoadMemoryBatches reads one corpus file per style.
func LoadMemoryBatches(style0Path, style1Path string, batchSize int) (*MemoryBatches, error) {
	style0, err := ReadLines(style0Path)
	if err != nil {
		return nil, err
	}
	style1, err := ReadLines(style1Path)
	if err != nil {
		return nil, err
	}
	return NewMemoryBatches(style0, style1, batchSize)
}

// Reset reshuffles both corpora.
func (m *MemoryBatches) Reset() {
	for _, c := range m.corpora {
		sgd.ShuffleSampleSet(c)
	}
	m.offset = 0
}

// Next returns the next balanced batch.
func (m *MemoryBatches) Next() (*Batch, error) {
	half := m.batchSize / 2
	for _, c := range m.corpora {
		if m.offset+half > c.Len() {
			return nil, io.EOF
		}
	}
	batch := &Batch{}
	for label, c := range m.corpora {
		for i := m.offset; i < m.offset+half; i++ {
			batch.Sentences = append(batch.Sentences, c.GetSample(i).(string))
			batch.Labels = append(batch.Labels, label)
		}
	}
	m.offset += half
	return batch, nil
}

// StreamBatches reads batches sequentially from two
// corpus files without loading them into memory.
// It rewinds a file when it runs out of lines, so Next
// never returns io.EOF.
type StreamBatches struct {
	files     [2]*os.File
	scanners  [2]*bufio.Scanner
	batchSize int
}

// NewStreamBatches opens one corpus file per style.
func NewStreamBatches(style0Path, style1Path string, batchSize int) (*StreamBatches, error) {
	if batchSize <= 0 || batchSize%2 != 0 {
		return nil, fmt.Errorf("%w: batch size %d cannot be split in half",
			ErrInvalidParams, batchSize)
	}
	res := &StreamBatches{batchSize: batchSize}
	for i, path := range []string{style0Path, style1Path} {
		f, err := os.Open(path)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.files[i] = f
		res.scanners[i] = bufio.NewScanner(f)
	}
	return res, nil
}

// Next reads half a batch from each file.
func (s *StreamBatches) Next() (*Batch, error) {
	batch := &Batch{}
	for label := range s.files {
		for i := 0; i < s.batchSize/2; i++ {
			line, err := s.nextLine(label)
			if err != nil {
				return nil, err
			}
			batch.Sentences = append(batch.Sentences, line)
			batch.Labels = append(batch.Labels, label)
		}
	}
	return batch, nil
}

// Reset does nothing, since streams have no epochs.
func (s *StreamBatches) Reset() {
}

// Close closes the underlying files.
func (s *StreamBatches) Close() error {
	var firstErr error
	for _, f := range s.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *StreamBatches) nextLine(idx int) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if s.scanners[idx].Scan() {
			return s.scanners[idx].Text(), nil
		}
		if err := s.scanners[idx].Err(); err != nil {
			return "", err
		}
		if _, err := s.files[idx].Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		s.scanners[idx] = bufio.NewScanner(s.files[idx])
	}
	return "", fmt.Errorf("%w: corpus %s is empty", ErrMalformedBatch, s.files[idx].Name())
}

// ReadLines reads the non-empty lines of a text file,
// trimming surrounding whitespace.
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("read corpus", err)
	}
	var res []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			res = append(res, line)
		}
	}
	return res, nil
}
