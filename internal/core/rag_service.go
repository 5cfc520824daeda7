package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gwi.com/docchat/internal/chunker"
	"gwi.com/docchat/internal/extract"
	"gwi.com/docchat/internal/llm"
	"gwi.com/docchat/internal/logging"
	"gwi.com/docchat/internal/store"
	"gwi.com/docchat/internal/vectorstore"
)

const DefaultTopK = 4

type RetrievalStatus int

const (
	RetrievalHit RetrievalStatus = iota
	RetrievalEmptyStore
	RetrievalNoMatch
	// RetrievalDegraded means embedding or search failed and the answer
	// proceeds without context.
	RetrievalDegraded
)

func (s RetrievalStatus) String() string {
	switch s {
	case RetrievalHit:
		return "hit"
	case RetrievalEmptyStore:
		return "empty_store"
	case RetrievalNoMatch:
		return "no_match"
	case RetrievalDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("RetrievalStatus(%d)", int(s))
	}
}

// Retrieval is the outcome of looking up context for one prompt.
type Retrieval struct {
	Status RetrievalStatus
	Chunks []string
	// Err is the cause when Status is RetrievalDegraded.
	Err error
}

type RAGConfig struct {
	Chunking chunker.Config
	TopK     int
}

type RAGService struct {
	dbStore   *store.SQLiteStore
	registry  *vectorstore.Registry
	embedder  llm.Embedder
	tokenizer chunker.Tokenizer
	chunking  chunker.Config
	topK      int
}

func NewRAGService(db *store.SQLiteStore, registry *vectorstore.Registry, embedder llm.Embedder, tok chunker.Tokenizer, cfg RAGConfig) *RAGService {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &RAGService{
		dbStore:   db,
		registry:  registry,
		embedder:  embedder,
		tokenizer: tok,
		chunking:  cfg.Chunking,
		topK:      cfg.TopK,
	}
}

// Retrieve finds up to topK chunks of the scope's documents nearest to query.
// Gateway and search failures degrade to an empty result; the returned error
// is non-nil only when ctx is done.
func (s *RAGService) Retrieve(ctx context.Context, scope vectorstore.Scope, query string) (Retrieval, error) {
	vs, ok := s.registry.Lookup(scope)
	if !ok || vs.Len() == 0 {
		return Retrieval{Status: RetrievalEmptyStore}, nil
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Retrieval{}, ctxErr
		}
		return s.degraded(ctx, fmt.Errorf("failed to get query embedding: %w", err)), nil
	}

	chunks, err := vs.Search(queryEmbedding, s.topK)
	if err != nil {
		return s.degraded(ctx, fmt.Errorf("failed to search vector store: %w", err)), nil
	}
	if len(chunks) == 0 {
		return Retrieval{Status: RetrievalNoMatch}, nil
	}

	logging.FromCtx(ctx).Debug().Int("chunks", len(chunks)).Msg("retrieved context")
	return Retrieval{Status: RetrievalHit, Chunks: chunks}, nil
}

func (s *RAGService) degraded(ctx context.Context, err error) Retrieval {
	logging.FromCtx(ctx).Warn().Err(err).Msg("retrieval degraded, answering without context")
	return Retrieval{Status: RetrievalDegraded, Err: err}
}

// Ingest extracts, chunks and embeds a document into the scope's vector
// store and returns the number of chunks stored.
func (s *RAGService) Ingest(ctx context.Context, scope vectorstore.Scope, filename string, content []byte) (int, error) {
	if _, err := s.dbStore.GetConversation(ctx, scope.ConversationID, scope.UserID); err != nil {
		return 0, fromStore(err)
	}

	text, err := extract.Text(filename, content)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return 0, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return 0, validationError("failed to read %s: %v", filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return 0, validationError("empty document")
	}

	chunks, err := chunker.ChunkText(s.tokenizer, text, s.chunking)
	if err != nil {
		return 0, fmt.Errorf("failed to chunk document: %w", err)
	}
	texts := chunker.Texts(chunks)

	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed document: %w", err)
	}

	if err := s.registry.GetOrCreate(scope).Add(vectors, texts); err != nil {
		return 0, fmt.Errorf("failed to store document chunks: %w", err)
	}

	if err := s.dbStore.TouchConversation(ctx, scope.ConversationID, scope.UserID); err != nil {
		// Chunks are already searchable at this point.
		logging.FromCtx(ctx).Warn().Err(err).Str("conversation_id", scope.ConversationID).Msg("failed to touch conversation after upload")
	}

	logging.FromCtx(ctx).Info().
		Str("conversation_id", scope.ConversationID).
		Str("filename", filename).
		Int("chunks", len(texts)).
		Int("scopes", s.registry.Len()).
		Msg("document ingested")
	return len(texts), nil
}
