// Package locking provides keyed advisory locks and the pessimistic and
// optimistic transaction templates built on top of them.
//
// A unit of work never holds more than one lock at a time. Locks are keyed by
// (ResourceKind, id) and are independent of row-level locking.
package locking

import (
	"fmt"
)

// ResourceKind identifies the class of entity a lock or version protects.
// The ordinal value is the first advisory lock argument, so existing values
// must never be renumbered.
type ResourceKind int32

const (
	KindBrokerAuthToken ResourceKind = iota + 1
	KindBrokerAccount
	KindPortfolio
	KindFund
)

func (k ResourceKind) String() string {
	switch k {
	case KindBrokerAuthToken:
		return "broker_auth_token"
	case KindBrokerAccount:
		return "broker_account"
	case KindPortfolio:
		return "portfolio"
	case KindFund:
		return "fund"
	}
	return fmt.Sprintf("resource_kind(%d)", int32(k))
}

// ResourceKey is the (kind, id) pair identifying what a lock protects.
type ResourceKey struct {
	Kind ResourceKind
	ID   int64
}

func (k ResourceKey) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Versioned is implemented by every entity used as a version anchor.
// GetVersion returns 0 for an entity that has never been persisted.
type Versioned interface {
	ResourceKey() ResourceKey
	GetVersion() int
	BumpVersion()
}
