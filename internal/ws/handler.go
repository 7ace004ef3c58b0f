package ws

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the live auction feed over WebSocket.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new WebSocket handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes mounts the WebSocket endpoints on an existing router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/auctions/{id}", h.HandleWebSocket)
	router.HandleFunc("/stats/auctions/{id}", h.GetStats).Methods("GET")
}

// HandleWebSocket upgrades the connection and subscribes the client to
// one auction's feed.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	if auctionID == "" {
		http.Error(w, "Auction ID is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &Client{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		Conn:      conn,
		Send:      make(chan []byte, 256),
	}

	h.manager.RegisterClient(client)
	client.StartReadPump(h.manager.unregister)

	welcome := fmt.Sprintf(`{"type":"connected","auctionId":"%s","clientId":"%s"}`, auctionID, client.ID)
	client.Send <- []byte(welcome)
}

// GetStats returns subscriber statistics for an auction.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	count := h.manager.SubscriberCount(auctionID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"auctionId":"%s","subscribers":%d}`, auctionID, count)
}
