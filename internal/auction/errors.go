package auction

import "errors"

// Authorization.
var ErrNotOwner = errors.New("caller is not the owner of this vehicle")

// Validation.
var (
	ErrBidTooLow          = errors.New("bid is below the starting price")
	ErrBidIncrementTooLow = errors.New("bid does not exceed the current highest bid by the minimum increment")
	ErrInvalidEndTime     = errors.New("auction end time must be in the future")
)

// State conflicts. These mean the request is no longer applicable, not
// that it failed transiently.
var (
	ErrVehicleNotFound    = errors.New("vehicle not found")
	ErrAuctionNotFound    = errors.New("auction not found")
	ErrAuctionAlreadyOpen = errors.New("an auction is already open for this vehicle")
	ErrAuctionClosed      = errors.New("auction is closed")
	ErrAuctionExpired     = errors.New("auction has ended")
	ErrAlreadyClosed      = errors.New("auction is already closed")
	ErrNoBids             = errors.New("no bids have been placed for this auction")
	ErrOwnershipConflict  = errors.New("vehicle ownership changed since the auction was opened")
	ErrAuctionStillOpen   = errors.New("vehicle has an open auction")
)

// Transient. Callers may resubmit.
var (
	ErrContention     = errors.New("too much contention on this auction, try again")
	ErrStorageTimeout = errors.New("storage operation timed out")
)
