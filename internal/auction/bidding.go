package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aaronwang/vehicle-auctions/internal/models"
	"github.com/aaronwang/vehicle-auctions/internal/store"
)

// PlaceBid validates and records a bid against the auction's current
// highest bid.
//
// The read-validate-insert sequence runs in one serializable transaction
// with the auction row locked, so two concurrent bids on the same auction
// cannot both validate against the same stale maximum. Serialization
// conflicts are retried transparently a bounded number of times, then
// surface as ErrContention so the caller may resubmit.
func (s *Service) PlaceBid(ctx context.Context, auctionID int64, bidder string, amount int64) (models.Bid, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var (
		bid         models.Bid
		previousMax int64
	)
	err := store.InSerializableTx(ctx, s.db, s.bidRetries, func(tx *sql.Tx) error {
		var (
			startingPrice int64
			endTime       time.Time
			state         models.AuctionState
		)
		err := tx.QueryRowContext(ctx, `
			SELECT starting_price, end_time, state
			FROM auctions
			WHERE id = $1
			FOR UPDATE
		`, auctionID).Scan(&startingPrice, &endTime, &state)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAuctionNotFound
		}
		if err != nil {
			return fmt.Errorf("query auction: %w", err)
		}

		// Explicit closing and expiry are independent terminal conditions
		// for bidding; only closing transfers ownership.
		if state != models.AuctionOpen {
			return ErrAuctionClosed
		}
		if s.now().After(endTime) {
			return ErrAuctionExpired
		}

		var (
			currentMax sql.NullInt64
			bidCount   int64
		)
		err = tx.QueryRowContext(ctx, `
			SELECT MAX(amount), COUNT(*) FROM bids WHERE auction_id = $1
		`, auctionID).Scan(&currentMax, &bidCount)
		if err != nil {
			return fmt.Errorf("query highest bid: %w", err)
		}

		if amount < startingPrice {
			return fmt.Errorf("minimum bid is %d: %w", startingPrice, ErrBidTooLow)
		}
		if bidCount > 0 && amount < currentMax.Int64+s.minIncrement {
			return fmt.Errorf("minimum bid is %d: %w", currentMax.Int64+s.minIncrement, ErrBidIncrementTooLow)
		}

		placedAt := s.now().UTC()
		bid = models.Bid{
			AuctionID:      auctionID,
			BidderUsername: bidder,
			Amount:         amount,
			PlacedAt:       placedAt,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO bids (auction_id, bidder_username, amount, placed_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, auctionID, bidder, amount, placedAt).Scan(&bid.ID)
		if err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}

		previousMax = currentMax.Int64
		return nil
	})
	if err != nil {
		if store.IsSerializationFailure(err) {
			return models.Bid{}, ErrContention
		}
		return models.Bid{}, storageErr(err)
	}

	log.Info().
		Int64("auction_id", auctionID).
		Int64("bid_id", bid.ID).
		Str("bidder", bidder).
		Int64("amount", amount).
		Msg("bid accepted")

	if s.events != nil {
		s.events.BidAccepted(models.BidEvent{
			EventID:        uuid.NewString(),
			AuctionID:      auctionID,
			BidID:          bid.ID,
			BidderUsername: bidder,
			Amount:         amount,
			PreviousAmount: previousMax,
			Timestamp:      bid.PlacedAt,
		})
	}
	return bid, nil
}

// BidHistory returns the most recent bids for an auction, newest first.
func (s *Service) BidHistory(ctx context.Context, auctionID int64, limit int) ([]models.Bid, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, auction_id, bidder_username, amount, placed_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY placed_at DESC, id DESC
		LIMIT $2
	`, auctionID, limit)
	if err != nil {
		return nil, storageErr(fmt.Errorf("query bids: %w", err))
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderUsername, &b.Amount, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return bids, nil
}
