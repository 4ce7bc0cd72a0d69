package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/normanking/cortexlearn/internal/bus"
	"github.com/normanking/cortexlearn/internal/metrics"
	"github.com/normanking/cortexlearn/internal/sensing"
	"github.com/normanking/cortexlearn/internal/voice"
)

// Inbound and outbound message types on /ws/sense.
const (
	MsgGaze       = "gaze"
	MsgFace       = "face"
	MsgVoice      = "voice"
	MsgTranscript = "transcript"
	MsgPing       = "ping"

	MsgPong     = "pong"
	MsgSensing  = "sensing"
	MsgLesson   = "lesson"
	MsgProgress = "progress"
	MsgError    = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 64 << 10
)

// SenseMessage is one inbound frame. Timestamps are Unix milliseconds;
// zero means "now".
type SenseMessage struct {
	Type string `json:"type"`

	// gaze
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Blinking bool    `json:"blinking,omitempty"`

	// face
	EyeOpenness         float64 `json:"eyeOpenness,omitempty"`
	BrowFurrow          float64 `json:"browFurrow,omitempty"`
	ForwardLean         float64 `json:"forwardLean,omitempty"`
	Smile               float64 `json:"smile,omitempty"`
	HorizontalDeviation float64 `json:"horizontalDeviation,omitempty"`

	// voice / transcript
	Command string `json:"command,omitempty"`
	Text    string `json:"text,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
}

// OutMessage is one outbound frame.
type OutMessage struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// senseClient is one connection. All writes go through send so the
// connection has a single writer.
type senseClient struct {
	conn *websocket.Conn
	send chan OutMessage
	done chan struct{}
}

func (c *senseClient) push(m OutMessage) {
	select {
	case c.send <- m:
	case <-c.done:
	default:
		// Slow reader; drop rather than stall the bus.
	}
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}

func (s *Server) senseHandler(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	metrics.SenseConnections.Inc()
	defer metrics.SenseConnections.Dec()

	c := &senseClient{
		conn: conn,
		send: make(chan OutMessage, 64),
		done: make(chan struct{}),
	}
	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("sensor client connected")

	b := s.session.Bus()
	sub := b.SubscribeMultiple([]bus.EventType{
		bus.EventTypeSensing,
		bus.EventTypeTransition,
		bus.EventTypeSegmentStarted,
		bus.EventTypeSegmentFinished,
		bus.EventTypeWordRevealed,
		bus.EventTypeFallback,
		bus.EventTypePaused,
		bus.EventTypeResumed,
		bus.EventTypeBreakSuggested,
		bus.EventTypeVoiceRequest,
		bus.EventTypeLessonCompleted,
	}, func(e bus.Event) { s.forward(c, e) })
	defer b.Unsubscribe(sub)

	go s.writeLoop(c)
	defer close(c.done)

	c.push(OutMessage{Type: MsgLesson, Data: s.session.Snapshot()})

	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg SenseMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("sensor client read failed")
			}
			log.Info().Msg("sensor client disconnected")
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if reply, ok := s.ingest(msg); ok {
			c.push(reply)
		}
	}
}

// ingest applies one inbound frame and returns a direct reply if any.
func (s *Server) ingest(m SenseMessage) (OutMessage, bool) {
	at := time.Now()
	if m.Timestamp > 0 {
		at = time.UnixMilli(m.Timestamp)
	}

	switch m.Type {
	case MsgGaze:
		s.session.AddGaze(sensing.GazeSample{X: m.X, Y: m.Y, Blinking: m.Blinking, Timestamp: at})
	case MsgFace:
		s.session.AddFace(sensing.FaceSample{
			EyeOpenness:         m.EyeOpenness,
			BrowFurrow:          m.BrowFurrow,
			ForwardLean:         m.ForwardLean,
			Smile:               m.Smile,
			HorizontalDeviation: m.HorizontalDeviation,
			Timestamp:           at,
		})
	case MsgVoice:
		cmd, err := voice.Parse(m.Command)
		if err == nil {
			err = s.session.Voice(cmd)
		}
		if err != nil {
			return OutMessage{Type: MsgError, Error: err.Error()}, true
		}
	case MsgTranscript:
		if _, err := s.session.Transcript(m.Text); err != nil {
			return OutMessage{Type: MsgError, Error: err.Error()}, true
		}
	case MsgPing:
		return OutMessage{Type: MsgPong}, true
	default:
		return OutMessage{Type: MsgError, Error: "unknown message type: " + m.Type}, true
	}
	return OutMessage{}, false
}

// forward maps a bus event onto the client. Lesson-level changes carry
// the whole view so the client never has to merge partial updates.
func (s *Server) forward(c *senseClient, e bus.Event) {
	switch e.Type {
	case bus.EventTypeSensing:
		c.push(OutMessage{Type: MsgSensing, Data: e.Data})
	case bus.EventTypeWordRevealed:
		c.push(OutMessage{Type: MsgProgress, Event: string(e.Type), Data: e.Data})
	default:
		c.push(OutMessage{Type: MsgLesson, Event: string(e.Type), Data: s.session.Snapshot()})
	}
}

func (s *Server) writeLoop(c *senseClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-c.send:
			data, err := json.Marshal(m)
			if err != nil {
				s.log.Warn().Err(err).Str("type", m.Type).Msg("outbound message not encodable")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
