package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension: размерность векторов HashEmbedder по умолчанию.
const DefaultHashDimension = 256

// HashEmbedder строит вектор по хешам слов текста. Работает без сети и всегда
// возвращает одинаковый вектор для одинакового текста.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder создаёт HashEmbedder; dim <= 0 означает DefaultHashDimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

// Name возвращает идентификатор модели.
func (h *HashEmbedder) Name() string {
	return fmt.Sprintf("hash-%d", h.dim)
}

// Embed возвращает нормированный вектор признаков. Для текста без слов вектор нулевой.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, h.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.dim)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 && !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "of": true, "to": true, "is": true, "in": true, "for": true,
	"on": true, "an": true, "or": true, "by": true, "be": true, "are": true, "at": true,
	"it": true, "my": true, "can": true, "what": true, "how": true, "does": true, "do": true,
	"with": true, "from": true, "this": true, "that": true, "as": true, "if": true,
}
