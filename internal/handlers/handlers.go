// Package handlers wires the auction core to HTTP. Routes mirror the
// external interface: user registration/login, vehicle listing and the
// three authenticated auction operations.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/aaronwang/vehicle-auctions/internal/auction"
	"github.com/aaronwang/vehicle-auctions/internal/auth"
	"github.com/aaronwang/vehicle-auctions/internal/models"
)

// SessionHeader carries the session token on authenticated requests.
const SessionHeader = "Session-Code"

// AuctionService is the auction core consumed by the handlers.
type AuctionService interface {
	CreateVehicle(ctx context.Context, caller, name, description string, startingPrice int64) (models.Vehicle, error)
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	DeleteVehicle(ctx context.Context, caller string, vehicleID int64) error
	CreateAuction(ctx context.Context, vehicleID int64, caller string, startingPrice int64, endTime time.Time) (models.Auction, error)
	PlaceBid(ctx context.Context, auctionID int64, bidder string, amount int64) (models.Bid, error)
	CloseAuction(ctx context.Context, auctionID int64, caller string) (models.ClosedAuction, error)
	BidHistory(ctx context.Context, auctionID int64, limit int) ([]models.Bid, error)
}

// Authenticator is the session/identity gateway consumed by the handlers.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (string, error)
}

// Handler contains the HTTP request handlers.
type Handler struct {
	auctions AuctionService
	auth     Authenticator
}

// NewHandler creates a new HTTP handler.
func NewHandler(auctions AuctionService, authenticator Authenticator) *Handler {
	return &Handler{
		auctions: auctions,
		auth:     authenticator,
	}
}

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	users := router.PathPrefix("/users").Subrouter()
	users.HandleFunc("/register", h.Register).Methods("POST")
	users.HandleFunc("/login", h.Login).Methods("POST")

	vehicles := router.PathPrefix("/vehicles").Subrouter()
	vehicles.HandleFunc("/create", h.authenticated(h.CreateVehicle)).Methods("POST")
	vehicles.HandleFunc("/list", h.ListVehicles).Methods("GET")
	vehicles.HandleFunc("/delete/{id}", h.authenticated(h.DeleteVehicle)).Methods("DELETE")

	auctions := router.PathPrefix("/auctions").Subrouter()
	auctions.HandleFunc("/create", h.authenticated(h.CreateAuction)).Methods("POST")
	auctions.HandleFunc("/bid", h.authenticated(h.PlaceBid)).Methods("POST")
	auctions.HandleFunc("/close/{id}", h.authenticated(h.CloseAuction)).Methods("POST")
	auctions.HandleFunc("/bids/{id}", h.BidHistory).Methods("GET")

	router.Use(loggingMiddleware)

	return router
}

type contextKey string

const identityKey contextKey = "identity"

// authenticated resolves the Session-Code header to an identity before
// invoking next. Every state-changing operation goes through here.
func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(SessionHeader)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "Missing Session-Code header")
			return
		}

		identity, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			respondTypedError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next(w, r.WithContext(ctx))
	}
}

func callerIdentity(r *http.Request) string {
	identity, _ := r.Context().Value(identityKey).(string)
	return identity
}

// HealthCheck returns service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "vehicle-auctions",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Register creates a new user account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	if err := h.auth.Register(r.Context(), req.Username, req.Password); err != nil {
		respondTypedError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"message": "User Registered"})
}

// Login verifies credentials and issues a session code.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondTypedError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.LoginResponse{SessionCode: token})
}

// CreateVehicle lists a new vehicle owned by the caller.
func (h *Handler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Vehicle name is required")
		return
	}
	if req.StartingPrice < 0 {
		respondError(w, http.StatusBadRequest, "Starting price must not be negative")
		return
	}

	vehicle, err := h.auctions.CreateVehicle(r.Context(), callerIdentity(r), req.Name, req.Description, req.StartingPrice)
	if err != nil {
		respondTypedError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, vehicle)
}

// ListVehicles returns all listed vehicles.
func (h *Handler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.auctions.ListVehicles(r.Context())
	if err != nil {
		respondTypedError(w, err)
		return
	}
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}
	respondJSON(w, http.StatusOK, vehicles)
}

// DeleteVehicle removes a vehicle owned by the caller.
func (h *Handler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.auctions.DeleteVehicle(r.Context(), callerIdentity(r), vehicleID); err != nil {
		respondTypedError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Vehicle Deleted"})
}

// CreateAuction opens an auction on a vehicle owned by the caller.
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.StartingPrice < 0 {
		respondError(w, http.StatusBadRequest, "Starting price must not be negative")
		return
	}

	created, err := h.auctions.CreateAuction(r.Context(), req.VehicleID, callerIdentity(r), req.StartingPrice, req.EndTime)
	if err != nil {
		respondTypedError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// PlaceBid places a bid on an open auction.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req models.PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "Bid amount must be positive")
		return
	}

	bid, err := h.auctions.PlaceBid(r.Context(), req.AuctionID, callerIdentity(r), req.Amount)
	if err != nil {
		respondTypedError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, bid)
}

// CloseAuction settles an auction and transfers vehicle ownership.
func (h *Handler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathID(w, r)
	if !ok {
		return
	}

	closed, err := h.auctions.CloseAuction(r.Context(), auctionID, callerIdentity(r))
	if err != nil {
		respondTypedError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, closed)
}

// BidHistory returns the most recent bids for an auction, newest first.
func (h *Handler) BidHistory(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	bids, err := h.auctions.BidHistory(r.Context(), auctionID, limit)
	if err != nil {
		respondTypedError(w, err)
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	respondJSON(w, http.StatusOK, bids)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

// respondTypedError maps the error taxonomy onto HTTP statuses.
func respondTypedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrUnknownIdentity),
		errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auction.ErrNotOwner):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auction.ErrVehicleNotFound),
		errors.Is(err, auction.ErrAuctionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrUsernameTaken),
		errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrBidIncrementTooLow),
		errors.Is(err, auction.ErrInvalidEndTime):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auction.ErrAuctionAlreadyOpen),
		errors.Is(err, auction.ErrAuctionClosed),
		errors.Is(err, auction.ErrAuctionExpired),
		errors.Is(err, auction.ErrAlreadyClosed),
		errors.Is(err, auction.ErrNoBids),
		errors.Is(err, auction.ErrOwnershipConflict),
		errors.Is(err, auction.ErrAuctionStillOpen):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auction.ErrContention):
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":     err.Error(),
			"retriable": true,
		})
	case errors.Is(err, auction.ErrStorageTimeout):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		log.Error().Err(err).Msg("unhandled error")
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// loggingMiddleware logs all HTTP requests.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
