// Package monitor keeps the most recent dispatched events and serves them to
// settings surfaces over HTTP and websocket.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sammwyy/keymacro/api"
)

// DefaultCapacity is the number of events kept for inspection
const DefaultCapacity = 40

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

// Record is one dispatched event and how the chain handled it
type Record struct {
	Event   api.Event `json:"event"`
	Outcome string    `json:"outcome"`
	Plugin  string    `json:"plugin,omitempty"`
	Error   string    `json:"error,omitempty"`

	// ReloadError is set when the rebuild run before this event failed
	ReloadError string `json:"reload_error,omitempty"`
	Injected    int    `json:"injected"`
}

// SchemaSource returns the current config schema document
type SchemaSource func() api.ConfigSchema

// Monitor is a bounded event history with live subscribers
type Monitor struct {
	mutex    sync.Mutex
	records  []Record
	next     int
	full     bool
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	schema   SchemaSource
	logger   api.Logger
}

type client struct {
	conn *websocket.Conn
	send chan Record
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// New creates a monitor keeping capacity records
func New(capacity int, schema SchemaSource, logger api.Logger) *Monitor {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Monitor{
		records: make([]Record, capacity),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		schema: schema,
		logger: logger,
	}
}

// Record stores r and hands it to live subscribers without waiting.
// Subscribers that cannot keep up are disconnected.
func (m *Monitor) Record(r Record) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.records[m.next] = r
	m.next = (m.next + 1) % len(m.records)
	if m.next == 0 {
		m.full = true
	}

	for c := range m.clients {
		select {
		case c.send <- r:
		default:
			m.logger.Warn("Dropping slow monitor client", "remote", c.conn.RemoteAddr().String())
			delete(m.clients, c)
			c.close()
		}
	}
}

// Recent returns the stored records, oldest first
func (m *Monitor) Recent() []Record {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.recentLocked()
}

func (m *Monitor) recentLocked() []Record {
	if !m.full {
		return append([]Record(nil), m.records[:m.next]...)
	}
	out := make([]Record, 0, len(m.records))
	out = append(out, m.records[m.next:]...)
	return append(out, m.records[:m.next]...)
}

// Handler returns the HTTP routes of the monitor
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", m.handleEvents)
	mux.HandleFunc("/schema", m.handleSchema)
	mux.HandleFunc("/ws", m.handleWebsocket)
	return mux
}

// Run serves the monitor on addr until ctx is done
func (m *Monitor) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("Monitor listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.closeClients()
		return server.Shutdown(shutdownCtx)
	}
}

func (m *Monitor) closeClients() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for c := range m.clients {
		delete(m.clients, c)
		c.close()
	}
}

func (m *Monitor) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.Recent())
}

func (m *Monitor) handleSchema(w http.ResponseWriter, r *http.Request) {
	if m.schema == nil {
		writeJSON(w, api.ConfigSchema{Plugins: []api.PluginInfo{}})
		return
	}
	writeJSON(w, m.schema())
}

func (m *Monitor) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Record, clientBuffer+len(m.records))}

	// backlog first, then live records, in one critical section
	m.mutex.Lock()
	for _, rec := range m.recentLocked() {
		c.send <- rec
	}
	m.clients[c] = struct{}{}
	m.mutex.Unlock()

	go m.writeLoop(c)
	m.readLoop(c)
}

// readLoop discards client messages and unregisters the client on close
func (m *Monitor) readLoop(c *client) {
	defer func() {
		m.mutex.Lock()
		if _, ok := m.clients[c]; ok {
			delete(m.clients, c)
			c.close()
		}
		m.mutex.Unlock()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Debug("Monitor client read failed", "error", err)
			}
			return
		}
	}
}

func (m *Monitor) writeLoop(c *client) {
	defer c.conn.Close()

	for rec := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(rec); err != nil {
			m.logger.Debug("Monitor client write failed", "error", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
