package models

import (
	"time"

	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
)

// Base contains common columns for all tables. IDs are integers because they
// double as advisory lock arguments.
type Base struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Versioning is embedded by entities that act as optimistic concurrency anchors.
// Version 0 means the row has never been persisted.
type Versioning struct {
	Version int `gorm:"not null;default:0" json:"version"`
}

// GetVersion implements locking.Versioned.
func (v *Versioning) GetVersion() int { return v.Version }

// BumpVersion implements locking.Versioned.
func (v *Versioning) BumpVersion() { v.Version++ }

var (
	_ locking.Versioned = (*Portfolio)(nil)
	_ locking.Versioned = (*BrokerAccount)(nil)
	_ locking.Versioned = (*BrokerAuthToken)(nil)
	_ locking.Versioned = (*Fund)(nil)
)
