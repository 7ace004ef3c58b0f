package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aaronwang/vehicle-auctions/internal/models"
	"github.com/aaronwang/vehicle-auctions/internal/store"
)

// CreateVehicle lists a new vehicle owned by the caller.
func (s *Service) CreateVehicle(ctx context.Context, caller, name, description string, startingPrice int64) (models.Vehicle, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	v := models.Vehicle{
		Name:          name,
		Description:   description,
		StartingPrice: startingPrice,
		OwnerUsername: caller,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO vehicles (name, description, starting_price, owner_username)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, name, description, startingPrice, caller).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return models.Vehicle{}, storageErr(fmt.Errorf("insert vehicle: %w", err))
	}
	return v, nil
}

// ListVehicles returns all listed vehicles.
func (s *Service) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, starting_price, owner_username, created_at
		FROM vehicles
		ORDER BY id
	`)
	if err != nil {
		return nil, storageErr(fmt.Errorf("query vehicles: %w", err))
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(&v.ID, &v.Name, &v.Description, &v.StartingPrice, &v.OwnerUsername, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return vehicles, nil
}

// DeleteVehicle removes a vehicle. Only the owner may delete, and never
// while an open auction references the vehicle.
func (s *Service) DeleteVehicle(ctx context.Context, caller string, vehicleID int64) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := store.InSerializableTx(ctx, s.db, 1, func(tx *sql.Tx) error {
		owner, err := vehicleOwnerForUpdate(ctx, tx, vehicleID)
		if err != nil {
			return err
		}
		if owner != caller {
			return ErrNotOwner
		}

		var openAuction bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM auctions WHERE vehicle_id = $1 AND state = 'open')
		`, vehicleID).Scan(&openAuction)
		if err != nil {
			return fmt.Errorf("check open auctions: %w", err)
		}
		if openAuction {
			return ErrAuctionStillOpen
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM vehicles WHERE id = $1`, vehicleID); err != nil {
			return fmt.Errorf("delete vehicle: %w", err)
		}
		return nil
	})
	return storageErr(err)
}

// CurrentOwner returns the current owner of a vehicle.
func (s *Service) CurrentOwner(ctx context.Context, vehicleID int64) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.currentOwner(ctx, vehicleID)
}

// vehicleOwnerForUpdate reads and locks the vehicle row, so ownership
// cannot change under a transaction that depends on it.
func vehicleOwnerForUpdate(ctx context.Context, tx *sql.Tx, vehicleID int64) (string, error) {
	var owner string
	err := tx.QueryRowContext(ctx, `
		SELECT owner_username FROM vehicles WHERE id = $1 FOR UPDATE
	`, vehicleID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrVehicleNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query vehicle owner: %w", err)
	}
	return owner, nil
}

// transferOwnership conditionally reassigns the vehicle to newOwner. The
// update is guarded on the expected current owner so a concurrent re-sale
// racing a closing auction fails instead of silently overwriting.
func transferOwnership(ctx context.Context, tx *sql.Tx, vehicleID int64, newOwner, expectedOldOwner string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE vehicles SET owner_username = $1
		WHERE id = $2 AND owner_username = $3
	`, newOwner, vehicleID, expectedOldOwner)
	if err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transfer ownership rows: %w", err)
	}
	if rows == 0 {
		return ErrOwnershipConflict
	}
	return nil
}
