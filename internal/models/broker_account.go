package models

import (
	"time"

	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
)

// BrokerAccountStatus mirrors the account status reported by the broker.
type BrokerAccountStatus string

const (
	BrokerAccountStatusPending BrokerAccountStatus = "PENDING"
	BrokerAccountStatusOpen    BrokerAccountStatus = "OPEN"
	BrokerAccountStatusFrozen  BrokerAccountStatus = "FROZEN"
	BrokerAccountStatusClosed  BrokerAccountStatus = "CLOSED"
)

// BrokerAccount is a customer's brokerage account at the broker.
type BrokerAccount struct {
	Base
	Versioning
	ProfileID int64               `gorm:"not null;index" json:"profile_id"`
	RefID     string              `gorm:"not null;uniqueIndex" json:"ref_id"`
	RefNo     string              `json:"ref_no"`
	Status    BrokerAccountStatus `gorm:"not null;default:'PENDING'" json:"status"`
	SyncedAt  *time.Time          `json:"synced_at,omitempty"`
}

// ResourceKey implements locking.Versioned.
func (a *BrokerAccount) ResourceKey() locking.ResourceKey {
	return locking.ResourceKey{Kind: locking.KindBrokerAccount, ID: a.ID}
}

// IsOpen reports whether the account can trade.
func (a *BrokerAccount) IsOpen() bool {
	return a.Status == BrokerAccountStatusOpen
}

// BrokerAuthTokenID is the id of the single shared bearer token row.
const BrokerAuthTokenID int64 = 1

// BrokerAuthToken is the bearer token shared by every process talking to the broker.
type BrokerAuthToken struct {
	Base
	Versioning
	AuthToken string     `gorm:"not null;default:''" json:"-"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ResourceKey implements locking.Versioned.
func (t *BrokerAuthToken) ResourceKey() locking.ResourceKey {
	return locking.ResourceKey{Kind: locking.KindBrokerAuthToken, ID: BrokerAuthTokenID}
}

// IsValidAt reports whether the token can be used at now, keeping a safety margin.
func (t *BrokerAuthToken) IsValidAt(now time.Time, margin time.Duration) bool {
	if t.AuthToken == "" || t.ExpiresAt == nil {
		return false
	}
	return t.ExpiresAt.After(now.Add(margin))
}
