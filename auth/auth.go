// Package auth provides username/password accounts over the user store
// with bcrypt credential hashing. The root admin account is bootstrapped
// on startup and can never be deleted.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/log"
	"github.com/deepnoodle-ai/rewind/store"
)

// RootUsername is the bootstrapped administrator account.
const RootUsername = "root"

var (
	// ErrInvalidCredentials is returned on a failed login. It does not
	// distinguish unknown user from wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrForbidden is returned when a non-admin attempts an admin-only
	// operation, or when deleting the root account.
	ErrForbidden = errors.New("operation not permitted")

	// ErrInvalidUsername is returned when a username fails validation.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidPassword is returned when a password fails validation.
	ErrInvalidPassword = errors.New("invalid password")
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
	minPasswordLength = 6
)

// Service registers and authenticates users.
type Service struct {
	store  *store.Store
	logger log.Logger
	cost   int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBcryptCost overrides the bcrypt cost, e.g. bcrypt.MinCost in tests.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) { s.cost = cost }
}

// NewService creates an auth service and bootstraps the root admin with
// rootPassword when the account does not exist yet. An existing root
// account is left untouched.
func NewService(ctx context.Context, st *store.Store, rootPassword string, logger log.Logger, opts ...ServiceOption) (*Service, error) {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	s := &Service{store: st, logger: logger, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}

	_, err := st.GetUserByName(ctx, RootUsername)
	if errors.Is(err, store.ErrNotFound) {
		hash, err := bcrypt.GenerateFromPassword([]byte(rootPassword), s.cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash root password: %w", err)
		}
		_, err = st.CreateUser(ctx, &rewind.User{
			Username:     RootUsername,
			PasswordHash: string(hash),
			IsAdmin:      true,
		})
		if err != nil && !errors.Is(err, store.ErrIntegrity) {
			return nil, fmt.Errorf("failed to bootstrap root user: %w", err)
		}
		if err == nil {
			logger.Info("bootstrapped root admin account")
		}
	} else if err != nil {
		return nil, err
	}
	return s, nil
}

// Register creates a new non-admin account.
func (s *Service) Register(ctx context.Context, username, password string) (*rewind.User, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, &rewind.User{
		Username:     username,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("registered user", "username", username, "user_id", user.ID)
	return user, nil
}

// Login verifies credentials and returns the account.
func (s *Service) Login(ctx context.Context, username, password string) (*rewind.User, error) {
	user, err := s.store.GetUserByName(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// DeleteUser removes an account and everything it owns. Only admins may
// delete, and the root account is undeletable.
func (s *Service) DeleteUser(ctx context.Context, actor *rewind.User, userID int64) error {
	if actor == nil || !actor.IsAdmin {
		return fmt.Errorf("%w: only admins may delete users", ErrForbidden)
	}
	target, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if target.Username == RootUsername {
		return fmt.Errorf("%w: the root account cannot be deleted", ErrForbidden)
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("deleted user", "username", target.Username, "deleted_by", actor.Username)
	return nil
}

func validateUsername(username string) error {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return fmt.Errorf("%w: must be %d-%d characters",
			ErrInvalidUsername, minUsernameLength, maxUsernameLength)
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return fmt.Errorf("%w: only letters, digits, underscore, and hyphen are allowed",
				ErrInvalidUsername)
		}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters",
			ErrInvalidPassword, minPasswordLength)
	}
	return nil
}
