package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COLLABORATOR DATA - Category metadata and member roster
// =============================================================================
// The engine consumes these from external collaborators. They are stored
// alongside the ledger tables for convenience but the engine only validates
// against them; it never owns their lifecycle.

// Category describes a dues category: what members owe and how often.
type Category struct {
	ID       CategoryID
	TenantID TenantID
	Name     string
	Active   bool

	// Amount is the fixed per-period amount for recurring categories.
	Amount decimal.Decimal

	// Recurring marks monthly categories generated on GenerationDay.
	Recurring     bool
	GenerationDay int

	// YearlyCap is the annual contribution ceiling for this category.
	// Nil means uncapped.
	YearlyCap *decimal.Decimal

	CreatedAt time.Time
}

// Member is a roster entry. Only active members receive generated dues.
type Member struct {
	ID        MemberID
	TenantID  TenantID
	Name      string
	Active    bool
	CreatedAt time.Time
}
