package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SecretSealer encrypts platform passwords before they are stored
type SecretSealer interface {
	Seal(plaintext string) (string, error)
}

// AccountInput is the platform login as submitted by a client
type AccountInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateUserRequest is the payload for registering a user
type CreateUserRequest struct {
	Username string             `json:"username"`
	Settings model.UserSettings `json:"settings"`
	Account  *AccountInput      `json:"account,omitempty"`
}

// UpdateUserRequest replaces settings and/or the platform account
type UpdateUserRequest struct {
	Settings *model.UserSettings `json:"settings,omitempty"`
	Account  *AccountInput       `json:"account,omitempty"`
}

// UserService manages the users that own jobs
type UserService struct {
	users         UserStore
	jobs          *JobService
	secrets       SecretSealer
	defaultAction model.NotOpenAction
}

// NewUserService creates a new user service. secrets may be nil, in which case accounts with
// passwords are rejected.
func NewUserService(users UserStore, jobs *JobService, secrets SecretSealer, defaultAction model.NotOpenAction) *UserService {
	if defaultAction == "" {
		defaultAction = model.NotOpenRetry
	}
	return &UserService{
		users:         users,
		jobs:          jobs,
		secrets:       secrets,
		defaultAction: defaultAction,
	}
}

// Create registers a new active user
func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*model.User, error) {
	if req.Settings.NotOpenAction == "" {
		req.Settings.NotOpenAction = s.defaultAction
	}

	now := time.Now().UTC()
	user := &model.User{
		Username:  req.Username,
		Active:    true,
		Settings:  req.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	if req.Account != nil {
		account, err := s.sealAccount(*req.Account)
		if err != nil {
			return nil, err
		}
		user.Account = account
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("User created", "user_id", user.ID.Hex(), "username", user.Username)
	return user, nil
}

// Get returns a user. Users may read themselves; admins may read anyone.
func (s *UserService) Get(ctx context.Context, caller Caller, id primitive.ObjectID) (*model.User, error) {
	if !caller.owns(id) {
		return nil, fmt.Errorf("%w: user %s belongs to someone else", model.ErrForbidden, id.Hex())
	}
	return s.users.GetUser(ctx, id)
}

// List returns users with pagination (admin only)
func (s *UserService) List(ctx context.Context, caller Caller, page, limit int) ([]model.User, int64, error) {
	if !caller.Admin {
		return nil, 0, fmt.Errorf("%w: listing users requires admin", model.ErrForbidden)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.users.ListUsers(ctx, page, limit)
}

// Update replaces settings and/or the platform account
func (s *UserService) Update(ctx context.Context, caller Caller, id primitive.ObjectID, req UpdateUserRequest) (*model.User, error) {
	user, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: user %s is deactivated", model.ErrForbidden, user.Username)
	}

	if req.Settings != nil {
		settings := *req.Settings
		if err := settings.Validate(); err != nil {
			return nil, err
		}
		user.Settings = settings
	}
	if req.Account != nil {
		account, err := s.sealAccount(*req.Account)
		if err != nil {
			return nil, err
		}
		user.Account = account
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("User updated", "user_id", id.Hex())
	return user, nil
}

// Deactivate marks a user inactive and cancels their active jobs (admin only)
func (s *UserService) Deactivate(ctx context.Context, caller Caller, id primitive.ObjectID) (*model.User, error) {
	if !caller.Admin {
		return nil, fmt.Errorf("%w: deactivating users requires admin", model.ErrForbidden)
	}

	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return user, nil
	}

	user.Active = false
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	cancelled, err := s.jobs.CancelOwnerJobs(ctx, id, "owner account deactivated")
	if err != nil {
		slog.Error("Failed to cancel jobs of deactivated user", "user_id", id.Hex(), "error", err)
	}

	slog.Info("User deactivated", "user_id", id.Hex(), "cancelled_jobs", cancelled)
	return user, nil
}

func (s *UserService) sealAccount(in AccountInput) (model.PlatformAccount, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return model.PlatformAccount{}, fmt.Errorf("%w: account username is required", model.ErrValidation)
	}

	account := model.PlatformAccount{Username: username}
	if in.Password == "" {
		return account, nil
	}
	if s.secrets == nil {
		return model.PlatformAccount{}, errors.New("credential key is not configured")
	}

	sealed, err := s.secrets.Seal(in.Password)
	if err != nil {
		return model.PlatformAccount{}, fmt.Errorf("failed to encrypt platform password: %w", err)
	}
	account.EncryptedPassword = sealed
	return account, nil
}
