package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"albumreviews/internal/auth"
	"albumreviews/internal/store"
)

// Store describes the persistence operations required by the user service.
type Store interface {
	CreateUser(ctx context.Context, in store.NewUser) (store.User, error)
	Credentials(ctx context.Context, username string) (int64, []byte, error)
	UserByID(ctx context.Context, id int64) (store.User, error)
	UserWithReviews(ctx context.Context, id int64) (store.UserDetail, error)
}

// Tokens issues and verifies bearer tokens.
type Tokens interface {
	Issue(userID int64) (string, error)
	Parse(token string) (int64, error)
}

// RegisterInput is the data accepted on signup.
type RegisterInput struct {
	FirstName string
	LastName  string
	Username  string
	Password  string
}

// Service exposes user-related workflows.
type Service interface {
	Register(ctx context.Context, in RegisterInput) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
	Authenticate(ctx context.Context, token string) (int64, error)
	Me(ctx context.Context, userID int64) (store.User, error)
	Profile(ctx context.Context, id int64) (store.UserDetail, error)
}

type service struct {
	store  Store
	tokens Tokens
}

// New wires a Service backed by the provided Store and token issuer.
func New(store Store, tokens Tokens) Service {
	return &service{store: store, tokens: tokens}
}

func (s *service) Register(ctx context.Context, in RegisterInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	username := strings.TrimSpace(in.Username)
	if username == "" {
		return "", fmt.Errorf("%w: missing required field: username", store.ErrValidation)
	}
	if in.Password == "" {
		return "", fmt.Errorf("%w: missing required field: password", store.ErrValidation)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return "", err
	}

	u, err := s.store.CreateUser(ctx, store.NewUser{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		return "", err
	}

	return s.tokens.Issue(u.ID)
}

func (s *service) Login(ctx context.Context, username, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	userID, hash, err := s.store.Credentials(ctx, username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	// Unknown users still pay for a bcrypt comparison.
	if err := auth.VerifyPassword(password, hash); err != nil {
		return "", store.ErrInvalidCredentials
	}

	return s.tokens.Issue(userID)
}

func (s *service) Authenticate(ctx context.Context, token string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(token) == "" {
		return 0, store.ErrUnauthorized
	}

	userID, err := s.tokens.Parse(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnauthorized, err)
	}
	return userID, nil
}

func (s *service) Me(ctx context.Context, userID int64) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}

	u, err := s.store.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		// The token outlived its account.
		return store.User{}, fmt.Errorf("%w: %v", store.ErrUnauthorized, err)
	}
	return u, err
}

func (s *service) Profile(ctx context.Context, id int64) (store.UserDetail, error) {
	if err := ctx.Err(); err != nil {
		return store.UserDetail{}, err
	}
	if id <= 0 {
		return store.UserDetail{}, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	return s.store.UserWithReviews(ctx, id)
}
