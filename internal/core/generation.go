package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gwi.com/docchat/internal/llm"
	"gwi.com/docchat/internal/logging"
	"gwi.com/docchat/internal/prompts"
	"gwi.com/docchat/internal/store"
	"gwi.com/docchat/internal/vectorstore"
)

// StreamErrorToken is sent in place of the rest of an answer when the model
// fails mid-stream.
const StreamErrorToken = "\n⚠️ Error generating response"

const titleTimeout = 30 * time.Second

type GenerateRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode"`
	Format         string `json:"format"`
	Tone           string `json:"tone"`
}

type GeneratorConfig struct {
	// HistoryLimit caps the replayed history to the most recent messages; 0 replays all.
	HistoryLimit    int
	AutoTitle       bool
	FinalizeTimeout time.Duration
	FinalizeRetries uint64
	FinalizeBackoff time.Duration
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		AutoTitle:       true,
		FinalizeTimeout: 15 * time.Second,
		FinalizeRetries: 3,
		FinalizeBackoff: 200 * time.Millisecond,
	}
}

// Generator runs one question-answer turn per Start call: it validates the
// request, loads history, retrieves context, streams the answer and records
// the exchange once the stream is over.
type Generator struct {
	dbStore *store.SQLiteStore
	rag     *RAGService
	model   llm.Model
	chats   *ChatService
	catalog *prompts.Catalog
	locks   *scopeLocks
	cfg     GeneratorConfig

	background sync.WaitGroup
}

func NewGenerator(db *store.SQLiteStore, rag *RAGService, model llm.Model, chats *ChatService, catalog *prompts.Catalog, cfg GeneratorConfig) *Generator {
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultGeneratorConfig().FinalizeTimeout
	}
	return &Generator{
		dbStore: db,
		rag:     rag,
		model:   model,
		chats:   chats,
		catalog: catalog,
		locks:   newScopeLocks(),
		cfg:     cfg,
	}
}

// Start prepares a generation. Nothing is persisted until the returned
// Generation's token stream ends or it is closed; callers must do one of
// the two.
func (g *Generator) Start(ctx context.Context, userID string, req GenerateRequest) (*Generation, error) {
	prompt := req.Prompt
	if strings.TrimSpace(prompt) == "" {
		return nil, validationError("prompt is required")
	}
	if req.ConversationID == "" {
		return nil, validationError("conversation_id is required")
	}

	conv, err := g.dbStore.GetConversation(ctx, req.ConversationID, userID)
	if err != nil {
		return nil, fromStore(err)
	}
	scope := vectorstore.Scope{UserID: userID, ConversationID: conv.ID}

	history, err := g.dbStore.History(ctx, conv.ID, g.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	retrieval, err := g.rag.Retrieve(ctx, scope, prompt)
	if err != nil {
		return nil, err
	}

	system := AppendContext(g.catalog.SystemPrompt(req.Mode, req.Format, req.Tone), retrieval.Chunks)

	logging.FromCtx(ctx).Debug().
		Str("conversation_id", conv.ID).
		Int("history", len(history)).
		Stringer("retrieval", retrieval.Status).
		Msg("generation prepared")

	return &Generation{
		gen:       g,
		ctx:       ctx,
		scope:     scope,
		conv:      conv,
		prompt:    prompt,
		messages:  BuildMessages(system, historyMessages(history), prompt),
		retrieval: retrieval,
		done:      make(chan struct{}),
	}, nil
}

// Wait blocks until background work started by finished generations, such
// as title generation, is done.
func (g *Generator) Wait() {
	g.background.Wait()
}

func (g *Generator) persist(ctx context.Context, scope vectorstore.Scope, prompt, answer string) ([]store.Message, error) {
	unlock := g.locks.Lock(scope)
	defer unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.FinalizeBackoff
	b.MaxElapsedTime = 0

	return backoff.RetryNotifyWithData(func() ([]store.Message, error) {
		msgs, err := g.dbStore.AppendExchange(ctx, scope.ConversationID, scope.UserID, prompt, answer)
		if errors.Is(err, store.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return msgs, err
	}, backoff.WithContext(backoff.WithMaxRetries(b, g.cfg.FinalizeRetries), ctx), func(err error, next time.Duration) {
		logging.FromCtx(ctx).Warn().Err(err).Dur("retry_in", next).Msg("failed to persist exchange, retrying")
	})
}

func (g *Generator) generateTitle(ctx context.Context, scope vectorstore.Scope, basis string) {
	g.background.Add(1)
	go func() {
		defer g.background.Done()
		ctx, cancel := context.WithTimeout(ctx, titleTimeout)
		defer cancel()
		if err := g.chats.GenerateTitle(ctx, scope.UserID, scope.ConversationID, basis); err != nil {
			logging.FromCtx(ctx).Warn().Err(err).Str("conversation_id", scope.ConversationID).Msg("failed to generate conversation title")
		}
	}()
}

// Result is the outcome of finalizing a generation.
type Result struct {
	// Answer is the text that was recorded as the assistant turn.
	Answer string
	// Messages are the persisted user and assistant turns; empty when Err is set.
	Messages []store.Message
	Err      error
}

// Generation is one prepared turn. Its token stream can be consumed once.
type Generation struct {
	gen       *Generator
	ctx       context.Context
	scope     vectorstore.Scope
	conv      *store.Conversation
	prompt    string
	messages  []llm.Message
	retrieval Retrieval

	started atomic.Bool

	mu        sync.Mutex
	answer    strings.Builder
	streamErr error

	once   sync.Once
	done   chan struct{}
	result Result
}

// Messages returns the prompt sent to the model.
func (gen *Generation) Messages() []llm.Message {
	return gen.messages
}

func (gen *Generation) Retrieval() Retrieval {
	return gen.retrieval
}

func (gen *Generation) ConversationID() string {
	return gen.conv.ID
}

// Tokens streams the answer. On upstream failure it yields StreamErrorToken
// and ends; when the consumer stops or the request context is cancelled it
// ends quietly. Either way the exchange, with whatever text was produced, is
// persisted before the iterator returns.
func (gen *Generation) Tokens() iter.Seq[string] {
	return func(yield func(string) bool) {
		if !gen.started.CompareAndSwap(false, true) {
			return
		}
		defer gen.finalize()

		for token, err := range gen.gen.model.Stream(gen.ctx, gen.messages) {
			if err != nil {
				gen.fail(err)
				if gen.ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				logging.FromCtx(gen.ctx).Error().Err(err).Str("conversation_id", gen.conv.ID).Msg("model stream failed")
				gen.record(StreamErrorToken)
				yield(StreamErrorToken)
				return
			}
			gen.record(token)
			if !yield(token) {
				return
			}
		}
	}
}

func (gen *Generation) record(token string) {
	gen.mu.Lock()
	gen.answer.WriteString(token)
	gen.mu.Unlock()
}

func (gen *Generation) fail(err error) {
	gen.mu.Lock()
	gen.streamErr = err
	gen.mu.Unlock()
}

// Err reports why the stream ended early, if it did.
func (gen *Generation) Err() error {
	gen.mu.Lock()
	defer gen.mu.Unlock()
	return gen.streamErr
}

// Close finalizes a generation whose stream was never consumed, or waits for
// the finalization of one that was. It returns the persistence error, if any.
func (gen *Generation) Close() error {
	gen.started.Store(true)
	gen.finalize()
	return gen.result.Err
}

// Result waits for finalization and returns its outcome.
func (gen *Generation) Result() Result {
	<-gen.done
	return gen.result
}

func (gen *Generation) finalize() {
	gen.once.Do(func() {
		defer close(gen.done)

		gen.mu.Lock()
		answer := gen.answer.String()
		gen.mu.Unlock()

		// The request may already be gone; the exchange is recorded regardless.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(gen.ctx), gen.gen.cfg.FinalizeTimeout)
		defer cancel()
		log := logging.FromCtx(ctx).With().Str("conversation_id", gen.conv.ID).Logger()

		msgs, err := gen.gen.persist(ctx, gen.scope, gen.prompt, answer)
		gen.result = Result{Answer: answer, Messages: msgs}
		if err != nil {
			gen.result.Err = fmt.Errorf("%w: %w", ErrPersistence, err)
			log.Error().Err(err).Msg("failed to persist exchange")
			return
		}
		log.Debug().Int("answer_bytes", len(answer)).Msg("exchange persisted")

		if gen.gen.cfg.AutoTitle && gen.conv.Title == store.DefaultTitle {
			gen.gen.generateTitle(context.WithoutCancel(gen.ctx), gen.scope, gen.prompt)
		}
	})
}
