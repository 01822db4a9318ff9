package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/wiredm-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Registration is the input of Register.
type Registration struct {
	Username    string
	Password    string
	DisplayName string
	AvatarURL   string
}

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new user with hashed password and returns a JWT token.
func (s *Service) Register(ctx context.Context, reg Registration) (string, *store.User, error) {
	username := strings.TrimSpace(reg.Username)
	if len(username) < 3 || len(username) > 32 || strings.ContainsAny(username, " \t\n") {
		return "", nil, ErrInvalidUsername
	}
	if err := validatePassword(reg.Password); err != nil {
		return "", nil, err
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil && existing != nil {
		return "", nil, ErrUserExists
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}

	hashedPassword, err := hashPassword(reg.Password)
	if err != nil {
		return "", nil, err
	}

	displayName := strings.TrimSpace(reg.DisplayName)
	if displayName == "" {
		displayName = username
	}

	// The lookup above races with concurrent registrations; the unique
	// index on username is what decides the winner.
	user, err := s.store.CreateUser(ctx, username, displayName, strings.TrimSpace(reg.AvatarURL), hashedPassword)
	if errors.Is(err, store.ErrAlreadyExists) {
		return "", nil, ErrUserExists
	}
	if err != nil {
		return "", nil, fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	return token, user, nil
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		burnPasswordCheck(password)
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := checkPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("check password: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	return token, user, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
