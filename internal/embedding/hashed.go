package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/spaolacci/murmur3"
	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the descriptor every local model directory carries.
const ManifestFile = "model.yaml"

// Manifest describes a hashed embedding model.
type Manifest struct {
	Name          string  `yaml:"name"`
	Dimension     int     `yaml:"dimension"`
	Tokenizer     string  `yaml:"tokenizer"`      // tiktoken encoding, e.g. cl100k_base
	NGram         int     `yaml:"ngram"`          // longest subword n-gram hashed
	SubwordWeight float64 `yaml:"subword_weight"` // weight of subword features relative to words
	DefaultWeight float64 `yaml:"default_weight"` // IDF for words missing from the weights file
	CaseSensitive bool    `yaml:"case_sensitive"`
	Seed          uint32  `yaml:"seed"`
	Weights       string  `yaml:"weights"` // optional YAML map of word -> IDF, relative to the model dir
}

func (m *Manifest) applyDefaults() {
	if m.Name == "" {
		m.Name = "hashed"
	}
	if m.Tokenizer == "" {
		m.Tokenizer = string(tokenizer.Cl100kBase)
	}
	if m.NGram <= 0 {
		m.NGram = 2
	}
	if m.SubwordWeight <= 0 {
		m.SubwordWeight = 0.5
	}
	if m.DefaultWeight <= 0 {
		m.DefaultWeight = 1
	}
}

// HashedModel projects word and subword features into a fixed number of signed
// buckets. Given the same manifest and weights it is a pure function of its input.
type HashedModel struct {
	manifest Manifest
	weights  map[string]float64

	mu    sync.Mutex // guards codec
	codec tokenizer.Codec
}

// LoadHashedModel reads dir/model.yaml and the weights file it references.
func LoadHashedModel(dir string) (*HashedModel, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read model manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model manifest %s: %w", path, err)
	}

	var weights map[string]float64
	if m.Weights != "" {
		wdata, err := os.ReadFile(filepath.Clean(filepath.Join(dir, m.Weights)))
		if err != nil {
			return nil, fmt.Errorf("read model weights: %w", err)
		}
		if err := yaml.Unmarshal(wdata, &weights); err != nil {
			return nil, fmt.Errorf("parse model weights: %w", err)
		}
	}

	return NewHashedModel(m, weights)
}

// NewHashedModel builds a model from an in-memory manifest and word weights.
func NewHashedModel(m Manifest, weights map[string]float64) (*HashedModel, error) {
	m.applyDefaults()
	if m.Dimension <= 0 {
		return nil, fmt.Errorf("model %q: dimension must be positive, got %d", m.Name, m.Dimension)
	}

	codec, err := tokenizer.Get(tokenizer.Encoding(m.Tokenizer))
	if err != nil {
		return nil, fmt.Errorf("model %q: tokenizer %q: %w", m.Name, m.Tokenizer, err)
	}

	normalized := make(map[string]float64, len(weights))
	for w, v := range weights {
		if !m.CaseSensitive {
			w = strings.ToLower(w)
		}
		normalized[w] = v
	}

	return &HashedModel{manifest: m, weights: normalized, codec: codec}, nil
}

func (h *HashedModel) Name() string   { return h.manifest.Name }
func (h *HashedModel) Dimension() int { return h.manifest.Dimension }

// Encode returns the L2-normalized feature vector of text.
func (h *HashedModel) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text = norm.NFKC.String(text)
	if !h.manifest.CaseSensitive {
		text = strings.ToLower(text)
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	h.mu.Lock()
	ids, _, err := h.codec.Encode(text)
	h.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: tokenize: %v", ErrEncoding, err)
	}
	if len(words) == 0 && len(ids) == 0 {
		return nil, fmt.Errorf("%w: no tokens in text", ErrEncoding)
	}

	acc := make([]float64, h.manifest.Dimension)
	for _, w := range words {
		h.add(acc, "w:"+w, h.weight(w))
	}
	for n := 1; n <= h.manifest.NGram; n++ {
		for i := 0; i+n <= len(ids); i++ {
			h.add(acc, subwordFeature(ids[i:i+n]), h.manifest.SubwordWeight)
		}
	}

	var sum float64
	for _, v := range acc {
		sum += v * v
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: features cancelled out", ErrEncoding)
	}
	length := math.Sqrt(sum)

	vec := make([]float32, len(acc))
	for i, v := range acc {
		vec[i] = float32(v / length)
	}
	return vec, nil
}

func (h *HashedModel) weight(word string) float64 {
	if w, ok := h.weights[word]; ok {
		return w
	}
	return h.manifest.DefaultWeight
}

// add hashes feature into a bucket; the top bit of the hash picks the sign.
func (h *HashedModel) add(acc []float64, feature string, weight float64) {
	sum := murmur3.Sum64WithSeed([]byte(feature), h.manifest.Seed)
	idx := int(sum % uint64(len(acc)))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

func subwordFeature(ids []uint) string {
	var sb strings.Builder
	sb.WriteString("t:")
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte('_')
		}
		sb.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	return sb.String()
}
