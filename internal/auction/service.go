// Package auction implements the auction core: the vehicle ownership
// registry, the auction lifecycle manager and the bidding engine.
//
// All mutations run inside a transaction scoped to a single logical
// operation, so no partial state is ever observable and concurrent
// callers cannot violate the bidding or lifecycle invariants.
package auction

import (
	"context"
	"database/sql"
	"time"

	"github.com/aaronwang/vehicle-auctions/internal/models"
	"github.com/aaronwang/vehicle-auctions/internal/store"
)

// Default engine tuning; overridable via Config.
const (
	DefaultMinIncrement   = 500
	DefaultBidRetries     = 3
	DefaultStorageTimeout = 5 * time.Second
)

// EventPublisher receives accepted-bid events. Publishing happens after
// the bid transaction commits and must never block or fail the bid path.
type EventPublisher interface {
	BidAccepted(event models.BidEvent)
}

// Config tunes the auction service.
type Config struct {
	// MinIncrement is the minimum amount a bid must exceed the current
	// highest bid by.
	MinIncrement int64
	// BidRetries bounds transparent retries of serialization conflicts.
	BidRetries int
	// StorageTimeout bounds every storage operation.
	StorageTimeout time.Duration
}

// Service is the auction core, backed by the relational store.
type Service struct {
	db     *sql.DB
	events EventPublisher

	minIncrement   int64
	bidRetries     int
	storageTimeout time.Duration

	now func() time.Time
}

// New creates the auction service. A nil events publisher disables event
// publishing.
func New(db *sql.DB, events EventPublisher, cfg Config) *Service {
	if cfg.MinIncrement <= 0 {
		cfg.MinIncrement = DefaultMinIncrement
	}
	if cfg.BidRetries <= 0 {
		cfg.BidRetries = DefaultBidRetries
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = DefaultStorageTimeout
	}
	return &Service{
		db:             db,
		events:         events,
		minIncrement:   cfg.MinIncrement,
		bidRetries:     cfg.BidRetries,
		storageTimeout: cfg.StorageTimeout,
		now:            time.Now,
	}
}

// opContext bounds a single storage-backed operation.
func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storageTimeout)
}

// storageErr normalizes timeouts so callers see a single typed error for
// any storage deadline, client- or server-side.
func storageErr(err error) error {
	if store.IsTimeout(err) {
		return ErrStorageTimeout
	}
	return err
}
