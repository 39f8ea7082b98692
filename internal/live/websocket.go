package live

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"waste-track/tracking/tracking-backend/internal/auth"
	"waste-track/tracking/tracking-backend/internal/shipments"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Lister loads the current shipment list of an owner
type Lister interface {
	ListShipments(ctx context.Context, ownerUserID string) ([]shipments.Record, error)
}

// Snapshot is the message sent on connect and after every change
type Snapshot struct {
	Type      string              `json:"type"`
	Shipments []shipments.Summary `json:"shipments"`
	SentAt    time.Time           `json:"sentAt"`
}

// Handler streams live shipment lists over websocket
type Handler struct {
	feed     *Feed
	lister   Lister
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(feed *Feed, lister Lister, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		feed:   feed,
		lister: lister,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/shipments/live", h.stream)
}

// stream handles GET /api/v1/shipments/live
func (h *Handler) stream(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in", "code": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	changes, unsubscribe := h.feed.Subscribe(user.ID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	h.logger.Debug("Live list opened", zap.String("owner_user_id", user.ID))
	if err := h.sendSnapshot(ctx, conn, user.ID); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if err := h.sendSnapshot(ctx, conn, user.ID); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed,
// and cancels the stream once the client goes away.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Live list closed", zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) sendSnapshot(ctx context.Context, conn *websocket.Conn, ownerUserID string) error {
	records, err := h.lister.ListShipments(ctx, ownerUserID)
	if err != nil {
		h.logger.Error("Failed to load live list", zap.String("owner_user_id", ownerUserID), zap.Error(err))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(gin.H{"type": "error", "error": "failed to load shipments"})
		return err
	}

	snapshot := Snapshot{
		Type:      "snapshot",
		Shipments: make([]shipments.Summary, 0, len(records)),
		SentAt:    time.Now().UTC(),
	}
	for _, rec := range records {
		snapshot.Shipments = append(snapshot.Shipments, rec.Summary())
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snapshot)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
