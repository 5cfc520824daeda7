package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gwi.com/docchat/internal/auth"
	"gwi.com/docchat/internal/store"
)

type UserService struct {
	dbStore   *store.SQLiteStore
	jwtSecret string
	jwtTTL    time.Duration
}

func NewUserService(db *store.SQLiteStore, jwtSecret string, jwtTTL time.Duration) *UserService {
	return &UserService{dbStore: db, jwtSecret: jwtSecret, jwtTTL: jwtTTL}
}

func (s *UserService) Signup(ctx context.Context, username, password string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, validationError("username is required")
	}
	if n := len(password); n < auth.MinPasswordLength || n > auth.MaxPasswordLength {
		return nil, validationError("password must be %d to %d characters", auth.MinPasswordLength, auth.MaxPasswordLength)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.dbStore.CreateUser(ctx, username, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, validationError("user already exists")
		}
		return nil, err
	}
	return user, nil
}

// Login checks the credentials and returns a signed access token.
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.dbStore.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return "", err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	return s.token(user)
}

// IssueToken signs a token for an existing user without a password check.
func (s *UserService) IssueToken(ctx context.Context, username string) (string, error) {
	user, err := s.dbStore.GetUserByUsername(ctx, username)
	if err != nil {
		return "", fromStore(err)
	}
	return s.token(user)
}

// Authenticate resolves a bearer token to its user.
func (s *UserService) Authenticate(ctx context.Context, token string) (*store.User, error) {
	userID, err := auth.ValidateJWT(s.jwtSecret, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	user, err := s.dbStore.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrUnauthorized)
		}
		return nil, err
	}
	return user, nil
}

func (s *UserService) token(user *store.User) (string, error) {
	token, err := auth.GenerateJWT(s.jwtSecret, user.ID, s.jwtTTL)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}
