package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/auth"
	"fadedreams/roadassist/domain"
)

const minPasswordLength = 6

type RegisterInput struct {
	Name           string
	Email          string
	Phone          string
	Password       string
	Role           string
	Specialization string
	Experience     int
}

// AuthResult is returned by register and login
type AuthResult struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// Register creates a user and, for mechanics, the profile in the same
// transaction. Admins cannot self-register.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceRegister")
	defer span.End()

	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return nil, s.fail(span, err, "Invalid registration")
	}
	if role == domain.RoleAdmin {
		return nil, s.fail(span, domain.NewForbiddenError("admin accounts cannot be self-registered"), "Registration not permitted")
	}
	user, err := s.newUser(in.Name, in.Email, in.Phone, in.Password, role)
	if err != nil {
		return nil, s.fail(span, err, "Invalid registration")
	}
	if in.Experience < 0 {
		return nil, s.fail(span, domain.NewValidationError("experience must not be negative"), "Invalid registration")
	}
	span.SetAttributes(attribute.String("userID", user.ID), attribute.String("role", string(role)))

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateUser(ctx, user); err != nil {
			return err
		}
		if role != domain.RoleMechanic {
			return nil
		}
		profile := domain.NewMechanicProfile(newID(), user.ID, strings.TrimSpace(in.Specialization), in.Experience, user.CreatedAt)
		return s.repo.CreateMechanic(ctx, profile)
	})
	if err != nil {
		return nil, s.fail(span, err, "Failed to register user", "email", user.Email)
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, s.fail(span, err, "Failed to issue token", "userID", user.ID)
	}
	s.logger.Info("Registered user", "userID", user.ID, "role", role, "app", appName)
	return &AuthResult{Token: token, User: user}, nil
}

// Login exchanges credentials for a token. Unknown email and wrong password
// fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceLogin")
	defer span.End()

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, s.fail(span, domain.NewValidationError("email and password are required"), "Invalid login")
	}
	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, s.fail(span, domain.ErrInvalidCredentials, "Login failed")
	}
	if err != nil {
		return nil, s.fail(span, err, "Failed to find user")
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, s.fail(span, domain.ErrInvalidCredentials, "Login failed", "userID", user.ID)
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, s.fail(span, err, "Failed to issue token", "userID", user.ID)
	}
	span.SetAttributes(attribute.String("userID", user.ID))
	return &AuthResult{Token: token, User: user}, nil
}

// Authenticate resolves a bearer token to the caller it was issued to.
func (s *Service) Authenticate(token string) (domain.Actor, error) {
	return s.tokens.Parse(token)
}

// EnsureAdmin creates the bootstrap admin account when no user holds its
// email yet. An existing non-admin user with that email is an error.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) error {
	ctx, span := s.tracer.Start(ctx, "ServiceEnsureAdmin")
	defer span.End()

	existing, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil && existing.Role == domain.RoleAdmin:
		return nil
	case err == nil:
		return s.fail(span, domain.NewConflictError("bootstrap admin email %s belongs to a %s account", existing.Email, existing.Role), "Failed to bootstrap admin")
	case !errors.Is(err, domain.ErrUserNotFound):
		return s.fail(span, err, "Failed to find bootstrap admin")
	}

	if name == "" {
		name = "Administrator"
	}
	user, err := s.newUser(name, email, domain.NotAvailable, password, domain.RoleAdmin)
	if err != nil {
		return s.fail(span, err, "Invalid bootstrap admin")
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return s.fail(span, err, "Failed to create bootstrap admin")
	}
	s.logger.Info("Created bootstrap admin", "userID", user.ID, "email", user.Email, "app", appName)
	return nil
}

func (s *Service) newUser(name, email, phone, password string, role domain.Role) (*domain.User, error) {
	name, phone, email = strings.TrimSpace(name), strings.TrimSpace(phone), domain.NormalizeEmail(email)
	if name == "" || email == "" || phone == "" || password == "" {
		return nil, domain.NewValidationError("name, email, phone and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.NewValidationError("invalid email address")
	}
	if len(password) < minPasswordLength {
		return nil, domain.NewValidationError("password must be at least %d characters", minPasswordLength)
	}
	hash, err := auth.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return &domain.User{
		ID:           newID(),
		Name:         name,
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now(),
	}, nil
}
