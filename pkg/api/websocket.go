package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"arkived/internal/logger"
	"arkived/pkg/events"
)

const (
	// wsSendBuffer bounds the per-connection outbound queue. A listener
	// that falls this far behind is treated as broken and dropped.
	wsSendBuffer = 64

	wsWriteTimeout = 10 * time.Second
)

// errSlowConsumer marks a listener whose send queue filled up.
var errSlowConsumer = errors.New("listener send queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS layer for the REST
	// surface; the websocket carries no mutating operations.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is an inbound control message from a listener.
type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type subscribeData struct {
	Topics []string `json:"topics"`
}

// wsSender adapts a websocket connection to the hub's Sender interface.
// Sends go through a buffered channel drained by a single writer goroutine,
// so slow handler I/O never blocks hub fan-out.
type wsSender struct {
	conn *websocket.Conn
	out  chan *events.Message
	done chan struct{}
}

func newWsSender(conn *websocket.Conn) *wsSender {
	s := &wsSender{
		conn: conn,
		out:  make(chan *events.Message, wsSendBuffer),
		done: make(chan struct{}),
	}
	go s.writePump()
	return s
}

func (s *wsSender) Send(msg *events.Message) error {
	select {
	case s.out <- msg:
		return nil
	case <-s.done:
		return websocket.ErrCloseSent
	default:
		// Full queue means the client cannot keep up.
		return errSlowConsumer
	}
}

func (s *wsSender) writePump() {
	for {
		select {
		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSender) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed: %v", err)
		return
	}

	sender := newWsSender(conn)
	connID, err := s.hub.Connect(sender, c.ClientIP())
	if err != nil {
		sender.close()
		conn.Close()
		return
	}

	defer func() {
		s.hub.Disconnect(connID)
		sender.close()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.hub.RecordReceived()

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			sender.Send(&events.Message{
				Type:      "error",
				Data:      map[string]any{"message": "malformed frame"},
				Timestamp: time.Now(),
			})
			continue
		}

		switch frame.Type {
		case "subscribe":
			var data subscribeData
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				sender.Send(&events.Message{
					Type:      "error",
					Data:      map[string]any{"message": "subscribe requires a topics list"},
					Timestamp: time.Now(),
				})
				continue
			}
			// Invalid topics get an error frame from the hub itself.
			s.hub.Subscribe(connID, data.Topics)

		case "unsubscribe":
			var data subscribeData
			if len(frame.Data) > 0 {
				json.Unmarshal(frame.Data, &data)
			}
			s.hub.Unsubscribe(connID, data.Topics)

		case "ping":
			sender.Send(&events.Message{Type: "pong", Timestamp: time.Now()})

		case "get_stats":
			stats := s.hub.Stats()
			sender.Send(&events.Message{
				Type: "stats",
				Data: map[string]any{
					"total_connections":  stats.TotalConnections,
					"active_connections": stats.ActiveConnections,
					"messages_sent":      stats.MessagesSent,
					"messages_received":  stats.MessagesReceived,
					"errors":             stats.Errors,
					"by_topic":           stats.ByTopic,
					"by_origin":          stats.ByOrigin,
				},
				Timestamp: time.Now(),
			})

		default:
			sender.Send(&events.Message{
				Type:      "error",
				Data:      map[string]any{"message": "unknown frame type"},
				Timestamp: time.Now(),
			})
		}
	}
}
