package models

import "time"

// Vehicle represents a listed asset with a single current owner.
// The owner changes only when an auction on the vehicle closes.
type Vehicle struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	StartingPrice int64     `json:"starting_price"`
	OwnerUsername string    `json:"owner_username"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuctionState is the lifecycle state of an auction.
type AuctionState string

const (
	AuctionOpen   AuctionState = "open"
	AuctionClosed AuctionState = "closed"
)

// Auction is a time-bounded bidding process on one vehicle.
// It transitions open -> closed exactly once.
type Auction struct {
	ID             int64        `json:"id"`
	VehicleID      int64        `json:"vehicle_id"`
	StartingPrice  int64        `json:"starting_price"`
	EndTime        time.Time    `json:"end_time"`
	State          AuctionState `json:"state"`
	WinnerUsername string       `json:"winner_username,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
}

// Bid is an append-only offer tied to an auction and bidder.
type Bid struct {
	ID             int64     `json:"id"`
	AuctionID      int64     `json:"auction_id"`
	BidderUsername string    `json:"bidder_username"`
	Amount         int64     `json:"amount"`
	PlacedAt       time.Time `json:"placed_at"`
}

// ClosedAuction confirms a completed close, including the ownership transfer.
type ClosedAuction struct {
	AuctionID      int64     `json:"auction_id"`
	VehicleID      int64     `json:"vehicle_id"`
	WinnerUsername string    `json:"winner_username"`
	WinningAmount  int64     `json:"winning_amount"`
	PreviousOwner  string    `json:"previous_owner"`
	ClosedAt       time.Time `json:"closed_at"`
}

// BidEvent is published when a bid is accepted. It feeds the live
// WebSocket broadcast (Redis pub/sub) and the audit archiver (JetStream).
type BidEvent struct {
	EventID        string    `json:"event_id"`
	AuctionID      int64     `json:"auction_id"`
	BidID          int64     `json:"bid_id"`
	BidderUsername string    `json:"bidder_username"`
	Amount         int64     `json:"amount"`
	PreviousAmount int64     `json:"previous_amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// RegisterRequest is the payload for user registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest is the payload for user login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse returns the session code for subsequent requests.
type LoginResponse struct {
	SessionCode string `json:"session_code"`
}

// CreateVehicleRequest is the payload for listing a new vehicle.
type CreateVehicleRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	StartingPrice int64  `json:"starting_price"`
}

// CreateAuctionRequest is the payload for opening an auction.
type CreateAuctionRequest struct {
	VehicleID     int64     `json:"vehicle_id"`
	StartingPrice int64     `json:"starting_price"`
	EndTime       time.Time `json:"end_time"`
}

// PlaceBidRequest is the payload for placing a bid.
type PlaceBidRequest struct {
	AuctionID int64 `json:"auction_id"`
	Amount    int64 `json:"amount"`
}
