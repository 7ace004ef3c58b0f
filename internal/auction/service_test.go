package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAuctionLifecycleScenario walks the full flow: alice opens an
// auction on her vehicle, bob and carol compete, carol wins, ownership
// transfers, and a second close is rejected.
func TestAuctionLifecycleScenario(t *testing.T) {
	svc, mock, pub := newTestService(t)
	ctx := context.Background()
	end := svc.now().Add(time.Hour)
	placedAt := svc.now().UTC()

	// alice opens the auction at 1000.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT owner_username FROM vehicles").
		WithArgs(int64(1)).
		WillReturnRows(ownerRow("alice"))
	mock.ExpectQuery("INSERT INTO auctions").
		WithArgs(int64(1), int64(1000), end).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), svc.now()))
	mock.ExpectCommit()

	a, err := svc.CreateAuction(ctx, 1, "alice", 1000, end)
	require.NoError(t, err)

	// bob bids 900: below starting price.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT starting_price, end_time, state").
		WithArgs(a.ID).
		WillReturnRows(auctionRow(1000, end, "open"))
	mock.ExpectQuery(`SELECT MAX\(amount\), COUNT\(\*\) FROM bids`).
		WithArgs(a.ID).
		WillReturnRows(maxBidRow(nil, 0))
	mock.ExpectRollback()

	_, err = svc.PlaceBid(ctx, a.ID, "bob", 900)
	assert.ErrorIs(t, err, ErrBidTooLow)

	// bob bids 1000: accepted.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT starting_price, end_time, state").
		WithArgs(a.ID).
		WillReturnRows(auctionRow(1000, end, "open"))
	mock.ExpectQuery(`SELECT MAX\(amount\), COUNT\(\*\) FROM bids`).
		WithArgs(a.ID).
		WillReturnRows(maxBidRow(nil, 0))
	mock.ExpectQuery("INSERT INTO bids").
		WithArgs(a.ID, "bob", int64(1000), placedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	_, err = svc.PlaceBid(ctx, a.ID, "bob", 1000)
	require.NoError(t, err)

	// carol bids 1400: needs at least 1500 given increment 500.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT starting_price, end_time, state").
		WithArgs(a.ID).
		WillReturnRows(auctionRow(1000, end, "open"))
	mock.ExpectQuery(`SELECT MAX\(amount\), COUNT\(\*\) FROM bids`).
		WithArgs(a.ID).
		WillReturnRows(maxBidRow(int64(1000), 1))
	mock.ExpectRollback()

	_, err = svc.PlaceBid(ctx, a.ID, "carol", 1400)
	assert.ErrorIs(t, err, ErrBidIncrementTooLow)

	// carol bids 1500: accepted.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT starting_price, end_time, state").
		WithArgs(a.ID).
		WillReturnRows(auctionRow(1000, end, "open"))
	mock.ExpectQuery(`SELECT MAX\(amount\), COUNT\(\*\) FROM bids`).
		WithArgs(a.ID).
		WillReturnRows(maxBidRow(int64(1000), 1))
	mock.ExpectQuery("INSERT INTO bids").
		WithArgs(a.ID, "carol", int64(1500), placedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()

	_, err = svc.PlaceBid(ctx, a.ID, "carol", 1500)
	require.NoError(t, err)

	// alice closes: carol wins, ownership transfers.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.vehicle_id, a.state, v.owner_username").
		WithArgs(a.ID).
		WillReturnRows(closeAuctionRow(1, "open", "alice"))
	mock.ExpectQuery("SELECT bidder_username, amount").
		WithArgs(a.ID).
		WillReturnRows(sqlmock.NewRows([]string{"bidder_username", "amount"}).AddRow("carol", int64(1500)))
	mock.ExpectExec("UPDATE vehicles SET owner_username").
		WithArgs("carol", int64(1), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE auctions SET state = 'closed'").
		WithArgs("carol", placedAt, a.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	closed, err := svc.CloseAuction(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "carol", closed.WinnerUsername)

	// Closing again: terminal state wins even though the vehicle now
	// belongs to carol.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.vehicle_id, a.state, v.owner_username").
		WithArgs(a.ID).
		WillReturnRows(closeAuctionRow(1, "closed", "carol"))
	mock.ExpectRollback()

	_, err = svc.CloseAuction(ctx, a.ID, "alice")
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	// Both accepted bids were published, in acceptance order with
	// strictly increasing amounts.
	require.Len(t, pub.events, 2)
	assert.Equal(t, int64(1000), pub.events[0].Amount)
	assert.Equal(t, int64(1500), pub.events[1].Amount)
	assert.GreaterOrEqual(t, pub.events[1].Amount, pub.events[0].Amount+svc.minIncrement)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestConcurrentCreateAuctionSingleWinner drives N concurrent creations
// for the same vehicle: exactly one wins the insert race, the rest hit
// the partial unique index.
func TestConcurrentCreateAuctionSingleWinner(t *testing.T) {
	svc, mock, _ := newTestService(t)
	mock.MatchExpectationsInOrder(false)
	end := svc.now().Add(time.Hour)

	const callers = 3
	for i := 0; i < callers; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT owner_username FROM vehicles").
			WithArgs(int64(1)).
			WillReturnRows(ownerRow("alice"))
	}
	mock.ExpectQuery("INSERT INTO auctions").
		WithArgs(int64(1), int64(1000), end).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), svc.now()))
	mock.ExpectCommit()
	for i := 0; i < callers-1; i++ {
		mock.ExpectQuery("INSERT INTO auctions").
			WithArgs(int64(1), int64(1000), end).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "auctions_one_open_per_vehicle"})
		mock.ExpectRollback()
	}

	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateAuction(context.Background(), 1, "alice", 1000, end)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, alreadyOpen int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAuctionAlreadyOpen):
			alreadyOpen++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, alreadyOpen)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestConcurrentBidsEnforceIncrement races two bidders at the same
// amount: whichever transaction reads the empty bid set first wins, the
// other validates against the committed maximum and is rejected.
func TestConcurrentBidsEnforceIncrement(t *testing.T) {
	svc, mock, pub := newTestService(t)
	mock.MatchExpectationsInOrder(false)
	end := svc.now().Add(time.Hour)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT starting_price, end_time, state").
			WithArgs(int64(1)).
			WillReturnRows(auctionRow(1000, end, "open"))
	}
	mock.ExpectQuery(`SELECT MAX\(amount\), COUNT\(\*\) FROM bids`).
		WithArgs(int64(1)).
		WillReturnRows(maxBidRow(nil, 0))
	mock.ExpectQuery("INSERT INTO bids").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT MAX\(amount\), COUNT\(\*\) FROM bids`).
		WithArgs(int64(1)).
		WillReturnRows(maxBidRow(int64(1000), 1))
	mock.ExpectRollback()

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, bidder := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(bidder string) {
			defer wg.Done()
			_, err := svc.PlaceBid(context.Background(), 1, bidder, 1000)
			results <- err
		}(bidder)
	}
	wg.Wait()
	close(results)

	var accepted, rejected int
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrBidIncrementTooLow):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)
	assert.Len(t, pub.events, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}
