package vectorstore

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrLengthMismatch    = errors.New("vectors and texts length mismatch")
)

// Store is an append-only, in-memory index of chunk vectors and their texts
// for one scope. Search is exact brute force over squared Euclidean distance.
type Store struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	texts     []string
}

func New(dimension int) *Store {
	return &Store{dimension: dimension}
}

// Hit is a search result with its squared distance to the query.
type Hit struct {
	Text     string
	Distance float32
	Position int
}

// Add appends vectors and texts in lock-step. Nothing is appended when any
// vector is rejected.
func (s *Store) Add(vectors [][]float32, texts []string) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: %d vectors, %d texts", ErrLengthMismatch, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("%w: vector %d has %d dimensions, store expects %d", ErrDimensionMismatch, i, len(v), s.dimension)
		}
	}

	copied := make([][]float32, len(vectors))
	for i, v := range vectors {
		copied[i] = slices.Clone(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = append(s.vectors, copied...)
	s.texts = append(s.texts, texts...)
	return nil
}

// Search returns the texts of the k nearest vectors, nearest first.
func (s *Store) Search(query []float32, k int) ([]string, error) {
	hits, err := s.SearchScored(query, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out, nil
}

// SearchScored is Search with distances. Equal distances keep insertion
// order. An empty store yields no hits and no error.
func (s *Store) SearchScored(query []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, store expects %d", ErrDimensionMismatch, len(query), s.dimension)
	}

	hits := make([]Hit, len(s.vectors))
	for i, v := range s.vectors {
		hits[i] = Hit{Text: s.texts[i], Distance: squaredL2(query, v), Position: i}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return 0
		}
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Len is the number of stored vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func (s *Store) Dimension() int {
	return s.dimension
}
