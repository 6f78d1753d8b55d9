// Package retrieval строит поисковый индекс по документу политики и ищет в нём
// разделы, ближайшие к вопросу.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrDimensionMismatch возвращается, если вектор вопроса не совпадает по размерности с индексом.
var ErrDimensionMismatch = errors.New("query dimension does not match index")

// Section: раздел документа между заголовками второго уровня.
type Section struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Text     string `json:"text"`
}

// Content возвращает текст раздела вместе с заголовком.
func (s Section) Content() string {
	if s.Title == "" {
		return s.Text
	}
	return "## " + s.Title + "\n\n" + s.Text
}

// Sections разбивает документ по строкам, начинающимся с "## ". Вступление до
// первого такого заголовка становится отдельным разделом, если в нём есть текст
// помимо заголовка первого уровня.
func Sections(doc string) []Section {
	var (
		out   []Section
		title string
		body  []string
		open  bool
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if open || text != "" {
			out = append(out, Section{Position: len(out), Title: title, Text: text})
		}
		body = body[:0]
	}

	for _, line := range strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			title = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			open = true
			continue
		}
		if !open && strings.HasPrefix(line, "# ") {
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}

// ContentHash возвращает sha256 документа в hex.
func ContentHash(doc string) string {
	sum := sha256.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:])
}

// Index: разделы документа с векторами. Не изменяется после построения.
type Index struct {
	hash      string
	model     string
	dimension int
	sections  []Section
	vectors   [][]float32
}

func newIndex(snap *Snapshot) (*Index, error) {
	if len(snap.Sections) != len(snap.Vectors) {
		return nil, fmt.Errorf("snapshot has %d sections and %d vectors", len(snap.Sections), len(snap.Vectors))
	}
	dim := 0
	for i, v := range snap.Vectors {
		if i == 0 {
			dim = len(v)
		}
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("snapshot vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return &Index{
		hash:      snap.Hash,
		model:     snap.Model,
		dimension: dim,
		sections:  snap.Sections,
		vectors:   snap.Vectors,
	}, nil
}

// Hash возвращает хеш документа, по которому построен индекс.
func (ix *Index) Hash() string { return ix.hash }

// Dimension возвращает размерность векторов.
func (ix *Index) Dimension() int { return ix.dimension }

// Len возвращает число разделов.
func (ix *Index) Len() int { return len(ix.sections) }

// Sections возвращает копию разделов в порядке документа.
func (ix *Index) Sections() []Section {
	return append([]Section(nil), ix.sections...)
}

// Result: раздел и его сходство с вопросом.
type Result struct {
	Section Section `json:"section"`
	Score   float64 `json:"score"`
}

// Query возвращает k ближайших разделов по косинусному сходству, от большего
// к меньшему; при равенстве раньше идёт раздел, стоящий раньше в документе.
func (ix *Index) Query(q []float32, k int) ([]Result, error) {
	if len(q) != ix.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(q), ix.dimension)
	}
	if k <= 0 {
		return []Result{}, nil
	}

	results := make([]Result, len(ix.sections))
	for i, s := range ix.sections {
		results[i] = Result{Section: s, Score: cosine(q, ix.vectors[i])}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
