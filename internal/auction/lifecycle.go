package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aaronwang/vehicle-auctions/internal/models"
	"github.com/aaronwang/vehicle-auctions/internal/store"
)

// CreateAuction opens an auction on a vehicle owned by the caller.
//
// The whole operation is one serializable transaction with the vehicle
// row locked, so a concurrent close cannot transfer ownership away
// between the check and the insert. The ownership check still runs before
// anything touches auction state, so a non-owner gets ErrNotOwner even
// when an auction is already open. The one-open-auction-per-vehicle rule
// is enforced by the partial unique index, not by a read-then-write
// check: concurrent creations race on the insert and exactly one wins.
func (s *Service) CreateAuction(ctx context.Context, vehicleID int64, caller string, startingPrice int64, endTime time.Time) (models.Auction, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	a := models.Auction{
		VehicleID:     vehicleID,
		StartingPrice: startingPrice,
		EndTime:       endTime,
		State:         models.AuctionOpen,
	}

	err := store.InSerializableTx(ctx, s.db, s.bidRetries, func(tx *sql.Tx) error {
		owner, err := vehicleOwnerForUpdate(ctx, tx, vehicleID)
		if err != nil {
			return err
		}
		if owner != caller {
			return ErrNotOwner
		}
		if !endTime.After(s.now()) {
			return ErrInvalidEndTime
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO auctions (vehicle_id, starting_price, end_time, state)
			VALUES ($1, $2, $3, 'open')
			RETURNING id, created_at
		`, vehicleID, startingPrice, endTime).Scan(&a.ID, &a.CreatedAt)
		if store.IsUniqueViolation(err) {
			return ErrAuctionAlreadyOpen
		}
		if err != nil {
			return fmt.Errorf("insert auction: %w", err)
		}
		return nil
	})
	if err != nil {
		if store.IsSerializationFailure(err) {
			return models.Auction{}, ErrContention
		}
		return models.Auction{}, storageErr(err)
	}

	log.Info().
		Int64("auction_id", a.ID).
		Int64("vehicle_id", vehicleID).
		Str("owner", caller).
		Time("end_time", endTime).
		Msg("auction opened")
	return a, nil
}

// CloseAuction settles an open auction: the highest bid wins, vehicle
// ownership transfers to the winner and the auction becomes closed, all
// in one transaction. A failure on any step leaves the auction open.
func (s *Service) CloseAuction(ctx context.Context, auctionID int64, caller string) (models.ClosedAuction, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var closed models.ClosedAuction
	err := store.InSerializableTx(ctx, s.db, s.bidRetries, func(tx *sql.Tx) error {
		var (
			vehicleID int64
			owner     string
			state     models.AuctionState
		)
		err := tx.QueryRowContext(ctx, `
			SELECT a.vehicle_id, a.state, v.owner_username
			FROM auctions a
			JOIN vehicles v ON v.id = a.vehicle_id
			WHERE a.id = $1
			FOR UPDATE OF a, v
		`, auctionID).Scan(&vehicleID, &state, &owner)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAuctionNotFound
		}
		if err != nil {
			return fmt.Errorf("query auction for close: %w", err)
		}

		// Closed is terminal for everyone, including the previous owner
		// who already transferred the vehicle away: a repeat close reports
		// AlreadyClosed, not NotOwner.
		if state != models.AuctionOpen {
			return ErrAlreadyClosed
		}
		if owner != caller {
			return ErrNotOwner
		}

		// Winning bid: highest amount, ties broken by earliest placement.
		var (
			winner        string
			winningAmount int64
		)
		err = tx.QueryRowContext(ctx, `
			SELECT bidder_username, amount
			FROM bids
			WHERE auction_id = $1
			ORDER BY amount DESC, placed_at ASC, id ASC
			LIMIT 1
		`, auctionID).Scan(&winner, &winningAmount)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoBids
		}
		if err != nil {
			return fmt.Errorf("query winning bid: %w", err)
		}

		if err := transferOwnership(ctx, tx, vehicleID, winner, caller); err != nil {
			return err
		}

		closedAt := s.now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE auctions SET state = 'closed', winner_username = $1, closed_at = $2
			WHERE id = $3
		`, winner, closedAt, auctionID); err != nil {
			return fmt.Errorf("close auction: %w", err)
		}

		closed = models.ClosedAuction{
			AuctionID:      auctionID,
			VehicleID:      vehicleID,
			WinnerUsername: winner,
			WinningAmount:  winningAmount,
			PreviousOwner:  caller,
			ClosedAt:       closedAt,
		}
		return nil
	})
	if err != nil {
		if store.IsSerializationFailure(err) {
			return models.ClosedAuction{}, ErrContention
		}
		return models.ClosedAuction{}, storageErr(err)
	}

	log.Info().
		Int64("auction_id", closed.AuctionID).
		Int64("vehicle_id", closed.VehicleID).
		Str("winner", closed.WinnerUsername).
		Int64("amount", closed.WinningAmount).
		Msg("auction closed, ownership transferred")
	return closed, nil
}

// currentOwner is CurrentOwner without the operation deadline, for use
// inside an operation that already carries one.
func (s *Service) currentOwner(ctx context.Context, vehicleID int64) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_username FROM vehicles WHERE id = $1
	`, vehicleID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrVehicleNotFound
	}
	if err != nil {
		return "", storageErr(fmt.Errorf("query vehicle owner: %w", err))
	}
	return owner, nil
}
