package websocket

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var ErrHubClosed = errors.New("room hub closed")

// Hub is one room's subscriber set plus a serialized task queue. Membership
// changes run as tasks, so tasks for a room never interleave while different
// rooms proceed independently. Broadcast does not go through the queue and
// is not ordered against tasks.
type Hub struct {
	roomID string
	log    *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	tasks        chan func()
	shutdown     chan struct{}
	shutdownOnce sync.Once
	lastActivity atomic.Int64
}

func NewHub(roomID string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		roomID:   roomID,
		log:      log.With("room_id", roomID),
		clients:  make(map[*Client]struct{}),
		tasks:    make(chan func()),
		shutdown: make(chan struct{}),
	}
	h.touch()
	return h
}

func (h *Hub) RoomID() string { return h.roomID }

func (h *Hub) touch() { h.lastActivity.Store(time.Now().UnixNano()) }

func (h *Hub) idleSince() time.Duration {
	return time.Since(time.Unix(0, h.lastActivity.Load()))
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			return
		case task := <-h.tasks:
			h.runTask(task)
		}
	}
}

func (h *Hub) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("hub_task_panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h.touch()
	task()
}

// Submit runs fn on the hub goroutine and waits for it to finish. fn must
// not Submit to the same hub.
func (h *Hub) Submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}

	select {
	case <-h.shutdown:
		return ErrHubClosed
	default:
	}

	// tasks is unbuffered: once handed over, Run executes the task.
	select {
	case h.tasks <- task:
	case <-h.shutdown:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.touch()
}

// Remove reports whether c was subscribed.
func (h *Hub) Remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	return true
}

func (h *Hub) Has(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c]
	return ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends event to every subscriber.
func (h *Hub) Broadcast(event string, payload any) {
	h.BroadcastExcept(event, payload, nil)
}

// BroadcastExcept sends event to every subscriber but skip. Subscribers whose
// buffer is full are dropped and closed.
func (h *Hub) BroadcastExcept(event string, payload any, skip *Client) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error("broadcast_encode_failed", "event", event, "err", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if c == skip {
			continue
		}
		if err := c.enqueue(frame); err != nil {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		if h.Remove(c) {
			h.log.Warn("slow_consumer_dropped", "conn_id", c.ID(), "user_id", c.UserID())
		}
		c.Close(ReasonSlowConsumer)
	}
}

func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}

// Manager owns the hub of every active room and shuts down idle ones.
type Manager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	log         *slog.Logger
}

func NewManager(idleTimeout time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Manager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		log:         log,
	}
}

func (m *Manager) GetHubForRoom(roomID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, exists := m.hubs[roomID]
	if !exists {
		hub = NewHub(roomID, m.log)
		m.hubs[roomID] = hub
		go hub.Run()
	}
	return hub
}

// Lookup returns the room's hub without creating one.
func (m *Manager) Lookup(roomID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hubs[roomID]
}

// Submit runs fn on the room's hub, retrying once if the hub was reaped
// between lookup and submission.
func (m *Manager) Submit(ctx context.Context, roomID string, fn func(h *Hub)) error {
	for range 2 {
		hub := m.GetHubForRoom(roomID)
		err := hub.Submit(ctx, func() { fn(hub) })
		if !errors.Is(err, ErrHubClosed) {
			return err
		}
	}
	return ErrHubClosed
}

// Broadcast is a no-op for rooms without a hub.
func (m *Manager) Broadcast(roomID, event string, payload any) {
	if hub := m.Lookup(roomID); hub != nil {
		hub.Broadcast(event, payload)
	}
}

// RemoveClient unsubscribes c from every hub and returns the rooms it was
// subscribed to.
func (m *Manager) RemoveClient(c *Client) []string {
	m.mu.Lock()
	hubs := make([]*Hub, 0, len(m.hubs))
	for _, hub := range m.hubs {
		hubs = append(hubs, hub)
	}
	m.mu.Unlock()

	var rooms []string
	for _, hub := range hubs {
		if hub.Remove(c) {
			rooms = append(rooms, hub.RoomID())
		}
	}
	return rooms
}

// Run reaps idle empty hubs until ctx is done, then shuts every hub down.
func (m *Manager) Run(ctx context.Context) {
	interval := min(m.idleTimeout/2, 5*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdownAll()
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for roomID, hub := range m.hubs {
		if hub.Len() == 0 && hub.idleSince() > m.idleTimeout {
			hub.Shutdown()
			delete(m.hubs, roomID)
			m.log.Debug("hub_reaped", "room_id", roomID)
		}
	}
}

func (m *Manager) shutdownAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for roomID, hub := range m.hubs {
		hub.Shutdown()
		delete(m.hubs, roomID)
	}
}

func (m *Manager) HubCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hubs)
}
