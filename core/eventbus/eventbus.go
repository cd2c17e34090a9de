package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sammwyy/keymacro/api"
)

// Request types accepted on the socket besides the event types
const (
	RequestGetConfigSchema = "getConfigSchema"
	RequestReloadConfig    = "reloadConfig"
	RequestReloadPlugins   = "reloadPlugins"
	RequestUnloadPlugin    = "unloadPlugin"
)

// Message kinds written back to clients
const (
	KindInject = "inject"
	KindResult = "result"
	KindSchema = "schema"
	KindAck    = "ack"
	KindError  = "error"
)

// Request is one newline delimited JSON object sent by the native hook or a
// control client
type Request struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Keycode  int64  `json:"keycode,omitempty"`
	Flags    uint64 `json:"flags,omitempty"`
	PluginID string `json:"plugin_id,omitempty"`
}

// Injected is a synthetic event the native hook has to post
type Injected struct {
	Type    api.EventType `json:"type"`
	Keycode int64         `json:"keycode,omitempty"`
	Flags   uint64        `json:"flags"`
	Down    bool          `json:"down,omitempty"`
}

// Message is one response line. Every request ends with exactly one message
// whose kind is not inject.
type Message struct {
	Kind    string            `json:"kind"`
	ID      string            `json:"id,omitempty"`
	Forward *bool             `json:"forward,omitempty"`
	Event   *Injected         `json:"event,omitempty"`
	Schema  *api.ConfigSchema `json:"schema,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Handler is the host side of the bus
type Handler interface {
	// HandleEvent dispatches one event; synthesized events go to emitter
	HandleEvent(event api.Event, emitter api.Emitter) api.Outcome
	ConfigSchema() api.ConfigSchema
	ReloadConfig()
	ReloadPlugins()
	UnloadPlugin(id string)
}

// EventBus serves the ingress protocol via Unix Domain Socket
type EventBus struct {
	socketPath string
	listener   net.Listener
	handler    Handler
	conns      map[net.Conn]struct{}
	mutex      sync.Mutex
	wg         sync.WaitGroup
	logger     api.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewEventBus creates a new event bus
func NewEventBus(socketPath string, handler Handler, logger api.Logger) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		socketPath: socketPath,
		handler:    handler,
		conns:      make(map[net.Conn]struct{}),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the event bus and begins listening for connections
func (eb *EventBus) Start() error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(eb.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", eb.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}

	eb.listener = listener
	eb.logger.Info("EventBus started", "socket", eb.socketPath)

	eb.wg.Add(1)
	go eb.acceptConnections()

	return nil
}

// Stop stops the event bus and closes open connections
func (eb *EventBus) Stop() error {
	eb.cancel()
	if eb.listener != nil {
		if err := eb.listener.Close(); err != nil {
			eb.logger.Error("Failed to close listener", "error", err)
		}
	}

	eb.mutex.Lock()
	for conn := range eb.conns {
		conn.Close()
	}
	eb.mutex.Unlock()
	eb.wg.Wait()

	if err := os.Remove(eb.socketPath); err != nil && !os.IsNotExist(err) {
		eb.logger.Error("Failed to remove socket file", "error", err)
	}

	eb.logger.Info("EventBus stopped")
	return nil
}

// Done is closed when Stop is called
func (eb *EventBus) Done() <-chan struct{} {
	return eb.ctx.Done()
}

// acceptConnections accepts incoming socket connections
func (eb *EventBus) acceptConnections() {
	defer eb.wg.Done()

	for {
		conn, err := eb.listener.Accept()
		if err != nil {
			select {
			case <-eb.ctx.Done():
				return
			default:
				eb.logger.Error("Failed to accept connection", "error", err)
				continue
			}
		}

		eb.mutex.Lock()
		if eb.ctx.Err() != nil {
			eb.mutex.Unlock()
			conn.Close()
			return
		}
		eb.conns[conn] = struct{}{}
		eb.mutex.Unlock()

		eb.wg.Add(1)
		go eb.handleConnection(conn)
	}
}

// handleConnection serves requests of one client in order
func (eb *EventBus) handleConnection(conn net.Conn) {
	defer eb.wg.Done()
	defer func() {
		eb.mutex.Lock()
		delete(eb.conns, conn)
		eb.mutex.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	out := &connWriter{encoder: json.NewEncoder(conn)}

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				eb.logger.Error("Failed to decode request", "error", err)
			}
			return
		}

		if err := eb.serve(req, out); err != nil {
			eb.logger.Error("Failed to write response", "error", err)
			return
		}
	}
}

func (eb *EventBus) serve(req Request, out *connWriter) error {
	switch api.EventType(req.Type) {
	case api.EventKeyDown, api.EventKeyUp, api.EventFlagsChanged:
		event := api.Event{
			ID:        req.ID,
			Type:      api.EventType(req.Type),
			Keycode:   req.Keycode,
			Flags:     req.Flags,
			Timestamp: time.Now(),
		}
		if event.ID == "" {
			event.ID = uuid.NewString()
		}

		outcome := eb.handler.HandleEvent(event, out)
		if out.err != nil {
			return out.err
		}
		forward := outcome.Forwarded()
		return out.write(Message{Kind: KindResult, ID: event.ID, Forward: &forward})
	}

	switch req.Type {
	case RequestGetConfigSchema:
		schema := eb.handler.ConfigSchema()
		return out.write(Message{Kind: KindSchema, ID: req.ID, Schema: &schema})
	case RequestReloadConfig:
		eb.handler.ReloadConfig()
	case RequestReloadPlugins:
		eb.handler.ReloadPlugins()
	case RequestUnloadPlugin:
		if req.PluginID == "" {
			return out.write(Message{Kind: KindError, ID: req.ID, Error: "plugin_id is required"})
		}
		eb.handler.UnloadPlugin(req.PluginID)
	default:
		eb.logger.Warn("Unknown request type", "type", req.Type)
		return out.write(Message{Kind: KindError, ID: req.ID, Error: fmt.Sprintf("unknown request type %q", req.Type)})
	}
	return out.write(Message{Kind: KindAck, ID: req.ID})
}

// connWriter writes response lines and doubles as the emitter of the
// dispatch it is handed to
type connWriter struct {
	encoder *json.Encoder
	err     error
}

func (w *connWriter) write(msg Message) error {
	if w.err != nil {
		return w.err
	}
	if err := w.encoder.Encode(msg); err != nil {
		w.err = fmt.Errorf("failed to encode %s message: %w", msg.Kind, err)
	}
	return w.err
}

func (w *connWriter) SendFlagsChanged(flags uint64) error {
	return w.write(Message{Kind: KindInject, Event: &Injected{Type: api.EventFlagsChanged, Flags: flags}})
}

func (w *connWriter) SendKeyboardEvent(keycode int64, flags uint64, down bool) error {
	eventType := api.EventKeyUp
	if down {
		eventType = api.EventKeyDown
	}
	return w.write(Message{Kind: KindInject, Event: &Injected{Type: eventType, Keycode: keycode, Flags: flags, Down: down}})
}
