package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBatches(t *testing.T) {
	texts := make([]string, 250)
	got := batches(texts, 100)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 100)
	assert.Len(t, got[1], 100)
	assert.Len(t, got[2], 50)

	assert.Empty(t, batches(nil, 100))
}

func TestRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	ctx := context.Background()

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		v, err := retry(ctx, p, "test", func() (int, error) {
			calls++
			if calls < 2 {
				return 0, ErrEmbeddingUnavailable
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		_, err := retry(ctx, p, "test", func() (int, error) {
			calls++
			return 0, ErrEmbeddingUnavailable
		})
		require.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.Equal(t, 3, calls)
	})

	t.Run("invalid input is permanent", func(t *testing.T) {
		calls := 0
		_, err := retry(ctx, p, "test", func() (int, error) {
			calls++
			return 0, ErrInvalidInput
		})
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		calls := 0
		_, err := retry(cctx, p, "test", func() (int, error) {
			calls++
			return 0, ErrEmbeddingUnavailable
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestUnavailableErrorsWrapUpstream(t *testing.T) {
	assert.True(t, errors.Is(ErrEmbeddingUnavailable, ErrUpstreamUnavailable))
	assert.True(t, errors.Is(ErrModelUnavailable, ErrUpstreamUnavailable))
	assert.False(t, errors.Is(ErrInvalidInput, ErrUpstreamUnavailable))
}

func TestGeminiRole(t *testing.T) {
	assert.Equal(t, "model", geminiRole(RoleAssistant))
	assert.Equal(t, "user", geminiRole(RoleUser))
}

func TestGeminiResponseText(t *testing.T) {
	assert.Empty(t, responseText(nil))
	assert.Empty(t, responseText(&genai.GenerateContentResponse{}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello, "), genai.Text("world")}},
		}},
	}
	assert.Equal(t, "Hello, world", responseText(resp))
}

func TestGeminiStartChatRequiresUserTurn(t *testing.T) {
	g := &Gemini{}
	_, _, err := g.startChat([]Message{{Role: RoleSystem, Content: "sys"}})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = g.startChat(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestGeminiTurnsSkipsBlankAndMergesRoles(t *testing.T) {
	system, history, last, err := geminiTurns([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: ""},
		{Role: RoleUser, Content: "again"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleUser, Content: "third"},
	})
	require.NoError(t, err)
	assert.Equal(t, "be brief", system)

	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, []genai.Part{genai.Text("hello"), genai.Text("again")}, history[0].Parts)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("hi")}, history[1].Parts)
	assert.Equal(t, []genai.Part{genai.Text("third")}, last)
}

func TestGeminiTurnsMergesTrailingUserTurns(t *testing.T) {
	_, history, last, err := geminiTurns([]Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "  "},
		{Role: RoleUser, Content: "second"},
	})
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, []genai.Part{genai.Text("first"), genai.Text("second")}, last)
}

func TestNewGeminiRejectsUnsupportedDimension(t *testing.T) {
	_, err := NewGemini(context.Background(), GeminiConfig{APIKey: "key", Dimension: 1536})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "768")
}

func TestClassifyGeminiError(t *testing.T) {
	err := classifyGeminiError(status.Error(codes.InvalidArgument, "bad"), ErrModelUnavailable)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = classifyGeminiError(status.Error(codes.Unavailable, "down"), ErrModelUnavailable)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}
