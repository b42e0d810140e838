// internal/interfaces/http/handlers/cart_ws.go
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/interfaces/http/middleware"
)

const (
	writeWait      = 10 * time.Second
	maxClientFrame = 512
	eventBuffer    = 16
)

// readyMessage is sent once the socket is subscribed
type readyMessage struct {
	Type  string `json:"type"`
	Owner string `json:"owner"`
}

// CartSocketHandler pushes cart:update events for the resolved owner
type CartSocketHandler struct {
	bus          cart.Bus
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	logger       *logrus.Logger
}

// NewCartSocketHandler creates a websocket handler on top of the cart bus
func NewCartSocketHandler(bus cart.Bus, cfg *config.Config, logger *logrus.Logger) *CartSocketHandler {
	allowed := cfg.Security.CORSAllowedOrigins
	ping := cfg.Cart.WebsocketPing
	if ping <= 0 {
		ping = 30 * time.Second
	}

	return &CartSocketHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.IsOriginAllowed(origin, allowed)
			},
		},
		pingInterval: ping,
		logger:       logger,
	}
}

// Serve handles GET /cart/ws
func (h *CartSocketHandler) Serve(c *gin.Context) {
	owner, ok := middleware.GetOwner(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cart owner not resolved"})
		return
	}

	// the upgrade response is written by the upgrader, so a freshly minted
	// session cookie has to be handed over explicitly
	var header http.Header
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		// the upgrader has already replied
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.logger.WithField("owner", owner.Key())

	events := make(chan cart.Event, eventBuffer)
	unsubscribe := h.bus.Subscribe(owner.Key(), func(event cart.Event) {
		select {
		case events <- event:
		default:
			log.Warn("Websocket client is slow, dropping cart event")
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(readyMessage{Type: "ready", Owner: owner.Key()}); err != nil {
		return
	}
	log.Debug("Websocket subscribed")

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.WithError(err).Debug("Websocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			log.Debug("Websocket closed")
			return
		}
	}
}

// readPump discards client frames and notices when the client goes away
func (h *CartSocketHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	deadline := 2 * h.pingInterval
	conn.SetReadLimit(maxClientFrame)
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
