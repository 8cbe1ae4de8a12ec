package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
)

// User represents a storefront identity. Guest users are provisioned during
// checkout and carry no password hash.
type User struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string            `gorm:"column:name;not null"`
	Email        string            `gorm:"column:email;type:text;not null;uniqueIndex"`
	PasswordHash *string           `gorm:"column:password_hash"`
	AccountKind  enums.AccountKind `gorm:"column:account_kind;type:text;not null;default:'credentialed'"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
