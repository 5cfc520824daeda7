package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gwi.com/docchat/internal/llm"
	"gwi.com/docchat/internal/logging"
	"gwi.com/docchat/internal/prompts"
	"gwi.com/docchat/internal/store"
)

const (
	DefaultConversationLimit = 50
	MaxConversationLimit     = 200
	DefaultMessageLimit      = 200
	MaxMessageLimit          = 1000
)

type ChatService struct {
	dbStore *store.SQLiteStore
	model   llm.Model // For title generation
	catalog *prompts.Catalog
}

func NewChatService(db *store.SQLiteStore, model llm.Model, catalog *prompts.Catalog) *ChatService {
	return &ChatService{
		dbStore: db,
		model:   model,
		catalog: catalog,
	}
}

func (s *ChatService) CreateConversation(ctx context.Context, userID, title string) (*store.Conversation, error) {
	c, err := s.dbStore.CreateConversation(ctx, userID, strings.TrimSpace(title))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return c, nil
}

func (s *ChatService) GetConversation(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	c, err := s.dbStore.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, fromStore(err)
	}
	return c, nil
}

// ListConversations applies the default page size for a zero limit.
func (s *ChatService) ListConversations(ctx context.Context, userID string, f store.ConversationFilter) ([]store.Conversation, error) {
	if f.Limit == 0 {
		f.Limit = DefaultConversationLimit
	}
	if f.Limit < 1 || f.Limit > MaxConversationLimit {
		return nil, validationError("limit must be between 1 and %d", MaxConversationLimit)
	}
	if f.Offset < 0 {
		return nil, validationError("offset must not be negative")
	}
	f.Query = strings.TrimSpace(f.Query)
	return s.dbStore.ListConversations(ctx, userID, f)
}

func (s *ChatService) GetMessages(ctx context.Context, userID, conversationID string, limit, offset int) ([]store.Message, error) {
	if limit == 0 {
		limit = DefaultMessageLimit
	}
	if limit < 1 || limit > MaxMessageLimit {
		return nil, validationError("limit must be between 1 and %d", MaxMessageLimit)
	}
	if offset < 0 {
		return nil, validationError("offset must not be negative")
	}
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.dbStore.ListMessages(ctx, conversationID, limit, offset)
}

func (s *ChatService) RenameConversation(ctx context.Context, userID, conversationID, title string) (*store.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}
	c, err := s.dbStore.RenameConversation(ctx, conversationID, userID, title)
	if err != nil {
		return nil, fromStore(err)
	}
	return c, nil
}

// DeleteConversation removes the conversation and its messages. Documents
// uploaded to it stay in the vector registry.
func (s *ChatService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	return fromStore(s.dbStore.DeleteConversation(ctx, conversationID, userID))
}

// GenerateTitle names a conversation that still has the default title after
// its first exchange.
func (s *ChatService) GenerateTitle(ctx context.Context, userID, conversationID, basis string) error {
	log := logging.FromCtx(ctx).With().Str("conversation_id", conversationID).Logger()

	title, err := s.model.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: s.catalog.TitleInstruction()},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: %q.", basis)},
	})
	if err != nil {
		return fmt.Errorf("failed to generate title: %w", err)
	}
	title = strings.Trim(title, "\"'\n\r\t .")
	if title == "" {
		return errors.New("model generated an empty title")
	}

	renamed, err := s.dbStore.ReplaceDefaultTitle(ctx, conversationID, userID, title)
	if err != nil {
		return fmt.Errorf("failed to save generated title: %w", fromStore(err))
	}
	if !renamed {
		log.Debug().Msg("conversation renamed meanwhile, keeping its title")
		return nil
	}
	log.Info().Str("title", title).Msg("generated conversation title")
	return nil
}
