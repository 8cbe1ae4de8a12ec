package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgauth "github.com/gustavoferreira/dropmart-backend/pkg/auth"
	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// Service covers registration, login and guest provisioning.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req LoginRequest) (*AuthResponse, error)

	// ProvisionGuest resolves the checkout identity for an unauthenticated
	// buyer inside the ambient transaction. A credentialed account owning
	// the email blocks guest checkout.
	ProvisionGuest(ctx context.Context, tx *gorm.DB, name, email string) (*models.User, error)
}

type service struct {
	repo        *Repository
	jwtCfg      config.JWTConfig
	passwordCfg config.PasswordConfig
	now         func() time.Time
}

// NewService builds the identity service.
func NewService(repo *Repository, jwtCfg config.JWTConfig, passwordCfg config.PasswordConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("identity repository required")
	}
	if jwtCfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	return &service{
		repo:        repo,
		jwtCfg:      jwtCfg,
		passwordCfg: passwordCfg,
		now:         time.Now,
	}, nil
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)

	hash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	existing, err := s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil && existing.AccountKind == enums.AccountKindGuest:
		// A guest who registers keeps their order history.
		if err := s.repo.Upgrade(ctx, existing.ID, name, hash); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upgrade guest account")
		}
		existing.Name = name
		existing.PasswordHash = &hash
		existing.AccountKind = enums.AccountKindCredentialed
		return s.respond(existing)
	case err == nil:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up account")
	}

	user := &models.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: &hash,
		AccountKind:  enums.AccountKindCredentialed,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	return s.respond(user)
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	email := normalizeEmail(req.Email)

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up account")
	}
	if user.AccountKind != enums.AccountKindCredentialed || user.PasswordHash == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	ok, err := security.VerifyPassword(req.Password, *user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	return s.respond(user)
}

func (s *service) ProvisionGuest(ctx context.Context, tx *gorm.DB, name, email string) (*models.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guest name and email required")
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.FindByEmail(ctx, email)
	switch {
	case err == nil && existing.AccountKind == enums.AccountKindCredentialed:
		return nil, pkgerrors.New(pkgerrors.CodeAccountConflict, "email belongs to an existing account")
	case err == nil:
		if existing.Name != name {
			if err := repo.UpdateName(ctx, existing.ID, name); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh guest name")
			}
			existing.Name = name
		}
		return existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up guest account")
	}

	guest := &models.User{
		ID:          uuid.New(),
		Name:        name,
		Email:       email,
		AccountKind: enums.AccountKindGuest,
	}
	if err := repo.Create(ctx, guest); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create guest account")
	}
	return guest, nil
}

func (s *service) respond(user *models.User) (*AuthResponse, error) {
	token, err := pkgauth.MintAccessToken(s.jwtCfg, s.now(), pkgauth.AccessTokenPayload{
		UserID:      user.ID,
		Email:       user.Email,
		AccountKind: user.AccountKind,
		JTI:         uuid.NewString(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token")
	}
	return &AuthResponse{Token: token, User: userViewFromModel(user)}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
