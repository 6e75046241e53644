package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/user_service/internal/errors"
	"github.com/R3E-Network/user_service/internal/logging"
)

const (
	DefaultPageSize int64 = 20
	MaxPageSize     int64 = 100
)

// Service implements the user operations on top of a Repository.
type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   *logging.Logger
	hashCost int
}

// NewService creates a Service.
func NewService(repo Repository, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:     repo,
		validate: NewValidator(),
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
	}
}

// SetHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) SetHashCost(cost int) {
	s.hashCost = cost
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*User, error) {
	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, errors.FromValidationError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, errors.Internal("", fmt.Errorf("hash password: %w", err))
	}

	role := Role(req.Role)
	if role == "" {
		role = RoleUser
	}
	u := &User{
		Name:         req.Name,
		Email:        req.Email,
		Role:         role,
		PasswordHash: string(hash),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithField("id", u.ID.Hex()).Info("User created")
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns a page of users. A non-positive limit selects the default
// page size; limits above MaxPageSize are clamped.
func (s *Service) List(ctx context.Context, opts ListOptions) (*Page, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}
	if opts.Limit > MaxPageSize {
		opts.Limit = MaxPageSize
	}
	if opts.Skip < 0 {
		return nil, errors.BadRequest("skip must not be negative")
	}

	users, total, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Page{Users: users, Total: total, Limit: opts.Limit, Skip: opts.Skip}, nil
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*User, error) {
	if req.Empty() {
		return nil, errors.BadRequest("No fields to update")
	}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		req.Email = &email
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, errors.FromValidationError(err)
	}

	changes := Changes{Name: req.Name, Email: req.Email}
	if req.Role != nil {
		role := Role(*req.Role)
		changes.Role = &role
	}

	u, err := s.repo.Update(ctx, id, changes)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).WithField("id", id).Info("User updated")
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithContext(ctx).WithField("id", id).Info("User deleted")
	return nil
}

// VerifyPassword reports whether password matches the stored hash of u.
func VerifyPassword(u *User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
