package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/invoke-ai/launcher/internal/bridge"
	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
	"github.com/invoke-ai/launcher/internal/infrastructure/monitoring"
	"github.com/invoke-ai/launcher/internal/shared/id"
	"github.com/invoke-ai/launcher/internal/terminal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds loopback; origin enforcement is the UI shell's.
		return true
	},
}

// statusRepublishInterval paces the periodic full-status refresh that lets
// clients recover from dropped events.
const statusRepublishInterval = time.Second

// Handler manages WebSocket connections.
type Handler struct {
	bus     *bridge.Bus
	board   *bridge.Board
	manager *terminal.Manager
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(
	bus *bridge.Bus,
	board *bridge.Board,
	manager *terminal.Manager,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
) *Handler {
	return &Handler{
		bus:     bus,
		board:   board,
		manager: manager,
		metrics: metrics,
		logger:  logger,
	}
}

// clientMessage is an inbound message from the UI.
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      string `json:"data,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// HandleConnection upgrades the request and serves the event stream until
// the client disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	statusCh, cancelStatus := h.bus.Subscribe(bridge.TopicStatus)
	defer cancelStatus()
	outputCh, cancelOutput := h.bus.Subscribe(bridge.TopicOutput)
	defer cancelOutput()
	logCh, cancelLog := h.bus.Subscribe(bridge.TopicLog)
	defer cancelLog()
	metricsCh, cancelMetrics := h.bus.Subscribe(bridge.TopicMetrics)
	defer cancelMetrics()

	done := make(chan struct{})
	pong := make(chan struct{}, 1)
	go h.writeLoop(conn, done, pong, statusCh, outputCh, logCh, metricsCh)

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case "write":
			h.manager.Write(msg.SessionID, []byte(msg.Data))
		case "resize":
			h.manager.Resize(msg.SessionID, msg.Cols, msg.Rows)
		case "ping":
			select {
			case pong <- struct{}{}:
			default:
			}
		default:
			h.logger.Debug("unknown websocket message type", zap.String("type", msg.Type))
		}
	}
	close(done)
}

// writeLoop is the connection's sole writer. It forwards bus events,
// answers pings, and republishes statuses on a fixed cadence.
func (h *Handler) writeLoop(conn *websocket.Conn, done <-chan struct{}, pong <-chan struct{}, channels ...<-chan bridge.Event) {
	ticker := time.NewTicker(statusRepublishInterval)
	defer ticker.Stop()

	// New clients see the full picture immediately.
	h.sendStatuses(conn)

	statusCh, outputCh, logCh, metricsCh := channels[0], channels[1], channels[2], channels[3]
	for {
		select {
		case evt := <-statusCh:
			h.send(conn, evt)
		case evt := <-outputCh:
			h.send(conn, evt)
		case evt := <-logCh:
			h.send(conn, evt)
		case evt := <-metricsCh:
			h.send(conn, evt)
		case <-pong:
			h.send(conn, gin.H{"type": "pong", "timestamp": time.Now().Unix()})
		case <-ticker.C:
			h.sendStatuses(conn)
		case <-done:
			return
		}
	}
}

func (h *Handler) sendStatuses(conn *websocket.Conn) {
	now := time.Now()
	for _, status := range h.board.All() {
		h.send(conn, bridge.Event{
			ID:        id.NewEventID().String(),
			Topic:     bridge.TopicStatus,
			Payload:   status,
			Timestamp: now,
		})
	}
}

func (h *Handler) send(conn *websocket.Conn, data interface{}) {
	if err := conn.WriteJSON(data); err != nil {
		h.logger.Debug("websocket write failed", zap.Error(err))
	}
}
