package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID      uuid.UUID
	Email       string
	AccountKind enums.AccountKind
	JTI         string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID      uuid.UUID         `json:"user_id"`
	Email       string            `json:"email"`
	AccountKind enums.AccountKind `json:"account_kind"`
	jwt.RegisteredClaims
}
