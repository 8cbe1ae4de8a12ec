package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLog is the append-only audit trail. One row per state transition and
// per supplier dispatch attempt.
type OrderLog struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID      `gorm:"column:order_id;type:uuid;not null;index"`
	Event     string         `gorm:"column:event;not null"`
	Detail    map[string]any `gorm:"column:detail;type:jsonb;serializer:json"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
}
