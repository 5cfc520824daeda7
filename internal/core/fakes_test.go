package core

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gwi.com/docchat/internal/chunker"
	"gwi.com/docchat/internal/llm"
	"gwi.com/docchat/internal/prompts"
	"gwi.com/docchat/internal/store"
	"gwi.com/docchat/internal/vectorstore"
)

// wordTokenizer treats each whitespace-separated word as one token.
type wordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{ids: make(map[string]int)}
}

func (w *wordTokenizer) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	fields := strings.Fields(text)
	out := make([]int, len(fields))
	for i, f := range fields {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.ids[f] = id
			w.words = append(w.words, f)
		}
		out[i] = id
	}
	return out
}

func (w *wordTokenizer) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = w.words[t]
	}
	return strings.Join(words, " ")
}

// keywordEmbedder maps texts to unit axes by keyword.
type keywordEmbedder struct {
	calls atomic.Int32
	err   atomic.Pointer[error]
}

func (e *keywordEmbedder) fail(err error) { e.err.Store(&err) }

func (e *keywordEmbedder) vector(text string) []float32 {
	switch {
	case strings.Contains(text, "alpha"):
		return []float32{1, 0, 0}
	case strings.Contains(text, "beta"):
		return []float32{0, 1, 0}
	case strings.Contains(text, "gamma"):
		return []float32{0, 0, 1}
	default:
		return []float32{0.5, 0.5, 0.5}
	}
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if err := e.err.Load(); err != nil {
		return nil, *err
	}
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if err := e.err.Load(); err != nil {
		return nil, *err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *keywordEmbedder) Dimension() int { return 3 }

// scriptedModel streams a fixed list of tokens, optionally failing after
// failAfter of them.
type scriptedModel struct {
	tokens    []string
	failAfter int
	title     string

	mu   sync.Mutex
	seen [][]llm.Message
}

func (m *scriptedModel) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	if m.title == "" {
		return "", llm.ErrModelUnavailable
	}
	return m.title, nil
}

func (m *scriptedModel) Stream(ctx context.Context, messages []llm.Message) iter.Seq2[string, error] {
	m.mu.Lock()
	m.seen = append(m.seen, messages)
	m.mu.Unlock()

	return func(yield func(string, error) bool) {
		for i, tok := range m.tokens {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if m.failAfter > 0 && i == m.failAfter {
				yield("", errors.Join(llm.ErrModelUnavailable, errors.New("connection reset")))
				return
			}
			if !yield(tok, nil) {
				return
			}
		}
	}
}

func (m *scriptedModel) lastPrompt() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[len(m.seen)-1]
}

type harness struct {
	db       *store.SQLiteStore
	embedder *keywordEmbedder
	model    *scriptedModel
	registry *vectorstore.Registry
	rag      *RAGService
	chats    *ChatService
	users    *UserService
	gen      *Generator
}

func newHarness(t *testing.T, model *scriptedModel, mutate ...func(*GeneratorConfig)) *harness {
	t.Helper()
	db, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := GeneratorConfig{
		AutoTitle:       false,
		FinalizeTimeout: 5 * time.Second,
		FinalizeRetries: 1,
		FinalizeBackoff: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	h := &harness{
		db:       db,
		embedder: &keywordEmbedder{},
		model:    model,
		registry: vectorstore.NewRegistry(3),
	}
	catalog := prompts.Default()
	h.rag = NewRAGService(db, h.registry, h.embedder, newWordTokenizer(), RAGConfig{
		Chunking: chunker.Config{MaxTokens: 3, Overlap: 0},
		TopK:     1,
	})
	h.chats = NewChatService(db, model, catalog)
	h.users = NewUserService(db, "test-secret", time.Hour)
	h.gen = NewGenerator(db, h.rag, model, h.chats, catalog, cfg)
	return h
}

func (h *harness) user(t *testing.T, name string) *store.User {
	t.Helper()
	u, err := h.users.Signup(context.Background(), name, "password")
	require.NoError(t, err)
	return u
}

func (h *harness) conversation(t *testing.T, userID string) *store.Conversation {
	t.Helper()
	c, err := h.chats.CreateConversation(context.Background(), userID, "")
	require.NoError(t, err)
	return c
}

func drain(seq iter.Seq[string]) []string {
	var out []string
	for tok := range seq {
		out = append(out, tok)
	}
	return out
}
