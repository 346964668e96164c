package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"schoolchat/internal/config"
	"schoolchat/internal/registry"
	"schoolchat/pkg/types"
)

// Verifier is the credential black box: verify(token) -> identity or
// failure. Implemented by auth.Service.
type Verifier interface {
	VerifyToken(tokenString string) (types.Identity, error)
}

// GroupLister is the slice of the persistence collaborator needed to
// rebuild a user's subscriptions at connect time.
type GroupLister interface {
	ListUserGroups(ctx context.Context, userID int64) ([]*types.Group, error)
}

// EventHandler consumes decoded inbound events. Implemented by
// router.Router.
type EventHandler interface {
	HandleEvent(ctx context.Context, conn registry.Conn, evt *types.Event)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is not checked; the bearer token is the trust boundary.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler authenticates websocket upgrades, registers connections, and
// runs each connection's read loop.
type Handler struct {
	registry *registry.Registry
	router   EventHandler
	store    GroupLister
	verifier Verifier
	cfg      *config.WebSocketConfig
}

func NewHandler(reg *registry.Registry, router EventHandler, store GroupLister, verifier Verifier, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		registry: reg,
		router:   router,
		store:    store,
		verifier: verifier,
		cfg:      cfg,
	}
}

// HandleWebSocket upgrades an authenticated request to a live session.
// A bad credential refuses the connection before the upgrade, so an
// unauthenticated socket never reaches the event loop.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing authentication token", http.StatusUnauthorized)
		return
	}
	identity, err := h.verifier.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade for user %d: %v", identity.UserID, err)
		return
	}

	conn := NewConnection(wsConn, identity, h.cfg)

	// Group load failure degrades to zero groups rather than refusing
	// the connection; subscriptions heal on the next connect.
	userGroups, err := h.store.ListUserGroups(r.Context(), identity.UserID)
	if err != nil {
		log.Printf("ws: load groups for user %d: %v", identity.UserID, err)
		userGroups = nil
	}
	groupIDs := make([]int64, 0, len(userGroups))
	for _, g := range userGroups {
		groupIDs = append(groupIDs, g.ID)
	}

	superseded, online := h.registry.Register(conn, groupIDs)
	if superseded != nil {
		log.Printf("ws: user %d reconnected, closing previous session", identity.UserID)
		superseded.Close()
	}

	if userGroups == nil {
		userGroups = []*types.Group{}
	}
	if err := conn.SendEvent(types.EventConnected, &types.ConnectedPayload{
		UserID:      identity.UserID,
		Groups:      userGroups,
		OnlineUsers: online,
	}); err != nil {
		log.Printf("ws: send connected snapshot to user %d: %v", identity.UserID, err)
	}

	log.Printf("ws: user connected id=%d name=%q groups=%d", identity.UserID, identity.Name, len(groupIDs))
	go h.readLoop(conn)
}

// readLoop processes inbound events in arrival order for one connection.
// Handlers run synchronously here, which is what gives each connection
// FIFO event processing.
func (h *Handler) readLoop(conn *Connection) {
	userID := conn.Identity().UserID
	defer func() {
		if h.registry.Unregister(conn) {
			h.registry.BroadcastAll(0, types.EventUserOffline, &types.UserOfflinePayload{UserID: userID})
			log.Printf("ws: user disconnected id=%d", userID)
		}
		conn.Close()
	}()

	conn.conn.SetReadLimit(h.cfg.ReadLimit)
	conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read from user %d: %v", userID, err)
			}
			return
		}

		var evt types.Event
		if err := json.Unmarshal(data, &evt); err != nil || evt.Event == "" {
			conn.SendEvent(types.EventError, &types.ErrorPayload{
				Kind:    types.ErrorKindValidation,
				Message: "malformed event envelope",
			})
			continue
		}
		h.router.HandleEvent(context.Background(), conn, &evt)
	}
}

// bearerToken pulls the credential from the Authorization header, with a
// query parameter fallback for browser websocket clients that cannot set
// headers.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}
