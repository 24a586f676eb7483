package view

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/clock"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/ringbuffer"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
)

const (
	// StatusLogSize is how many status lines are kept and replayed.
	StatusLogSize = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// StatusEntry is one line of the status log.
type StatusEntry struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Event is a text message sent to browser viewers.
type Event struct {
	Type    string        `json:"type"`
	Status  *StatusEntry  `json:"status,omitempty"`
	Results *Results      `json:"results,omitempty"`
	State   *stream.State `json:"state,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Session string        `json:"session,omitempty"`
}

type outbound struct {
	kind int
	data []byte
}

type client struct {
	conn *websocket.Conn
	send chan outbound
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.send) }) }

// Hub is a View that broadcasts to browser viewers over WebSocket. Frames go
// out as binary messages and everything else as JSON text events.
type Hub struct {
	logger   *zap.Logger
	clock    clock.Clock
	upgrader websocket.Upgrader
	log      *ringbuffer.RingBuffer[StatusEntry]

	mu      sync.Mutex
	clients map[*client]struct{}
	state   stream.State
	closed  bool
}

func NewHub(logger *zap.Logger, clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.Real()
	}
	return &Hub{
		logger: logger,
		clock:  clk,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 << 10,
			// Origin policy is enforced by the console's CORS settings.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     ringbuffer.New[StatusEntry](StatusLogSize),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and replays the state and status log.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("viewer upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan outbound, sendBuffer+StatusLogSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	state := h.state
	// Replay under the lock so no live event can be ordered before history.
	c.send <- h.encode(Event{Type: "state", State: &state})
	for _, e := range h.log.Snapshot(0) {
		e := e
		c.send <- h.encode(Event{Type: "status", Status: &e})
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveViewers.WithLabelValues("websocket").Inc()
	h.logger.Info("viewer connected", zap.String("remote", r.RemoteAddr), zap.Int("viewers", n))

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
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

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.close()
		metrics.ActiveViewers.WithLabelValues("websocket").Dec()
		h.logger.Info("viewer disconnected", zap.Int("viewers", n))
	}
}

func (h *Hub) encode(e Event) outbound {
	b, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("encode viewer event", zap.Error(err))
	}
	return outbound{kind: websocket.TextMessage, data: b}
}

// broadcast queues msg for every viewer. A full queue drops the frame; for
// events it disconnects the viewer.
func (h *Hub) broadcast(msg outbound) {
	h.mu.Lock()
	slow := h.queueLocked(msg)
	h.mu.Unlock()
	h.dropSlow(slow)
}

func (h *Hub) queueLocked(msg outbound) []*client {
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			if msg.kind == websocket.BinaryMessage {
				metrics.FramesDroppedTotal.WithLabelValues("slow_viewer").Inc()
				continue
			}
			slow = append(slow, c)
		}
	}
	return slow
}

func (h *Hub) dropSlow(slow []*client) {
	for _, c := range slow {
		h.logger.Warn("dropping slow viewer")
		h.remove(c)
	}
}

func (h *Hub) RenderFrame(frame []byte) {
	h.broadcast(outbound{kind: websocket.BinaryMessage, data: frame})
}

// SetStatus appends to the status log and broadcasts the entry. Both happen
// under h.mu, like the replay in ServeHTTP, so a new viewer sees each entry
// exactly once.
func (h *Hub) SetStatus(text string) {
	e := StatusEntry{Text: text, At: h.clock.Now()}
	msg := h.encode(Event{Type: "status", Status: &e})
	h.mu.Lock()
	h.log.Write(e)
	slow := h.queueLocked(msg)
	h.mu.Unlock()
	h.dropSlow(slow)
}

func (h *Hub) RenderResults(r Results) {
	if r.Clear {
		h.broadcast(h.encode(Event{Type: "clear", Kind: r.Kind, Session: r.Session}))
		return
	}
	h.broadcast(h.encode(Event{Type: "results", Results: &r}))
}

func (h *Hub) SetState(s stream.State) {
	msg := h.encode(Event{Type: "state", State: &s})
	h.mu.Lock()
	h.state = s
	slow := h.queueLocked(msg)
	h.mu.Unlock()
	h.dropSlow(slow)
}

// StatusLog returns the retained status lines, oldest first.
func (h *Hub) StatusLog() []StatusEntry { return h.log.Snapshot(0) }

func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}
