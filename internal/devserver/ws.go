package devserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webnode/internal/runtime"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// wsMessage is one frame of the WebSocket REPL protocol.
type wsMessage struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`
	Code string `json:"code,omitempty"`

	Value   interface{} `json:"value,omitempty"`
	Error   string      `json:"error,omitempty"`
	Level   string      `json:"level,omitempty"`
	Message string      `json:"message,omitempty"`
}

// handleWS serves a WebSocket REPL. Each connection gets its own
// session, so declarations persist for the connection's lifetime and
// never leak across connections. Console output streams as it happens,
// ahead of the result frame.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.metrics.WSConnections.Inc()
	defer s.metrics.WSConnections.Dec()

	// Reads and evaluations happen on this goroutine, so writes to the
	// connection never interleave.
	var console []wsMessage
	session := runtime.NewSession(s.fs, runtime.Config{
		Transformer: s.transformer,
		Console: func(level, message string) {
			console = append(console, wsMessage{Type: "console", Level: level, Message: message})
		},
	})

	conn.WriteJSON(wsMessage{Type: "system", Message: "webnode session " + session.ID.String()})

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("WebSocket closed", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "eval":
			console = console[:0]
			s.execMu.Lock()
			val, err := session.Eval(msg.Code)
			s.execMu.Unlock()

			for _, line := range console {
				conn.WriteJSON(line)
			}
			if err != nil {
				conn.WriteJSON(wsMessage{Type: "error", ID: msg.ID, Error: err.Error()})
				continue
			}
			conn.WriteJSON(wsMessage{Type: "result", ID: msg.ID, Value: val})
		case "ping":
			conn.WriteJSON(wsMessage{Type: "pong", ID: msg.ID})
		default:
			conn.WriteJSON(wsMessage{Type: "error", ID: msg.ID, Error: "unknown message type"})
		}
	}
}
