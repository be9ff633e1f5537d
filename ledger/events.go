package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOMAIN EVENTS
// =============================================================================

// Event is emitted after a command commits. The ledger doesn't know who
// consumes it; publication is best-effort and never rolls a command back.
type Event interface {
	EventName() string
}

// ContributionRecorded is emitted for every income carrying a member id.
type ContributionRecorded struct {
	OrgID    OrgID
	IncomeID TransactionID
	MemberID MemberID
	Amount   decimal.Decimal
	Category string
	Date     time.Time
	Currency string
}

func (ContributionRecorded) EventName() string { return "contribution.recorded" }

// LiabilitySettled is emitted when a payment brings a liability to Paid.
type LiabilitySettled struct {
	OrgID          OrgID
	LiabilityID    LiabilityID
	Creditor       string
	OriginalAmount decimal.Decimal
	AmountPaid     decimal.Decimal
	Date           time.Time
}

func (LiabilitySettled) EventName() string { return "liability.settled" }

// AssetDisposedEvent is emitted when a disposal commits.
type AssetDisposedEvent struct {
	OrgID      OrgID
	DisposalID DisposalID
	AssetID    AssetID
	AccountID  AccountID
	Amount     decimal.Decimal
	Date       time.Time
}

func (AssetDisposedEvent) EventName() string { return "asset.disposed" }

// Publisher delivers events to whoever listens.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
