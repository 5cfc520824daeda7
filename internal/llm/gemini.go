package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gwi.com/docchat/internal/config"
)

const (
	DefaultGeminiChatModel      = "gemini-1.5-flash-latest"
	DefaultGeminiEmbeddingModel = "text-embedding-004"
	DefaultGeminiDimension      = config.GeminiEmbeddingDimension
)

type GeminiConfig struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Dimension      int
	Temperature    float64
	Retry          RetryPolicy
}

// Gemini implements Provider on the Google Generative AI API.
type Gemini struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	dimension      int
	temperature    float32
	retry          RetryPolicy
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Gemini API key not set")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultGeminiChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultGeminiEmbeddingModel
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultGeminiDimension
	}
	if cfg.Dimension != DefaultGeminiDimension {
		return nil, fmt.Errorf("gemini embeddings have %d dimensions, got %d", DefaultGeminiDimension, cfg.Dimension)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		client:         client,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		dimension:      cfg.Dimension,
		temperature:    float32(cfg.Temperature),
		retry:          cfg.Retry,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Gemini) Dimension() int { return g.dimension }

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	return retry(ctx, g.retry, "gemini.embed", func() ([]float32, error) {
		em := g.client.EmbeddingModel(g.embeddingModel)
		res, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, classifyGeminiError(err, ErrEmbeddingUnavailable)
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return nil, fmt.Errorf("%w: no embedding data received from gemini", ErrEmbeddingUnavailable)
		}
		return res.Embedding.Values, nil
	})
}

func (g *Gemini) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", ErrInvalidInput)
	}

	em := g.client.EmbeddingModel(g.embeddingModel)
	out := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, MaxEmbeddingBatch) {
		vectors, err := retry(ctx, g.retry, "gemini.batch_embed", func() ([][]float32, error) {
			b := em.NewBatch()
			for _, t := range batch {
				b.AddContent(genai.Text(t))
			}
			res, err := em.BatchEmbedContents(ctx, b)
			if err != nil {
				return nil, classifyGeminiError(err, ErrEmbeddingUnavailable)
			}
			if len(res.Embeddings) != len(batch) {
				return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbeddingUnavailable, len(res.Embeddings), len(batch))
			}
			vectors := make([][]float32, len(batch))
			for i, e := range res.Embeddings {
				vectors[i] = e.Values
			}
			return vectors, nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (g *Gemini) Complete(ctx context.Context, messages []Message) (string, error) {
	cs, last, err := g.startChat(messages)
	if err != nil {
		return "", err
	}

	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return "", classifyGeminiError(err, ErrModelUnavailable)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned no text", ErrModelUnavailable)
	}
	return text, nil
}

func (g *Gemini) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		cs, last, err := g.startChat(messages)
		if err != nil {
			yield("", err)
			return
		}

		it := cs.SendMessageStream(ctx, last...)
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					yield("", ctx.Err())
					return
				}
				yield("", classifyGeminiError(err, ErrModelUnavailable))
				return
			}
			if text := responseText(resp); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// startChat builds a chat session holding the system instruction and prior
// turns, and returns the parts of the final user turn to send.
func (g *Gemini) startChat(messages []Message) (*genai.ChatSession, []genai.Part, error) {
	system, history, last, err := geminiTurns(messages)
	if err != nil {
		return nil, nil, err
	}

	model := g.client.GenerativeModel(g.chatModel)
	model.SetTemperature(g.temperature)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := model.StartChat()
	cs.History = history
	return cs, last, nil
}

// geminiTurns splits messages into a system instruction, alternating prior
// turns and the parts of the final user turn. Gemini rejects empty text parts
// and expects roles to alternate, so blank messages are dropped and
// consecutive messages of one role are merged into a single turn.
func geminiTurns(messages []Message) (string, []*genai.Content, []genai.Part, error) {
	var system []string
	var turns []*genai.Content
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := geminiRole(m.Role)
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Parts = append(turns[n-1].Parts, genai.Text(m.Content))
			continue
		}
		turns = append(turns, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return "", nil, nil, fmt.Errorf("%w: last message must be a non-empty user turn", ErrInvalidInput)
	}
	last := turns[len(turns)-1]
	return strings.Join(system, "\n\n"), turns[:len(turns)-1], last.Parts, nil
}

func geminiRole(r Role) string {
	if r == RoleAssistant {
		return "model"
	}
	return "user"
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func classifyGeminiError(err error, unavailable error) error {
	if status.Code(err) == codes.InvalidArgument {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: %w", unavailable, err)
}

var _ Provider = (*Gemini)(nil)
