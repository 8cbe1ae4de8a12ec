package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
)

// RegisterRequest carries the signup form.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginRequest carries the login form.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserView is the public projection of a user.
type UserView struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	AccountKind enums.AccountKind `json:"account_kind"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string   `json:"token"`
	User  UserView `json:"user"`
}

func userViewFromModel(user *models.User) UserView {
	return UserView{
		ID:          user.ID,
		Name:        user.Name,
		Email:       user.Email,
		AccountKind: user.AccountKind,
		CreatedAt:   user.CreatedAt,
	}
}
