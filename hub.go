package tour

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SessionHub owns the authoritative copy of every active tour and
// coordinates all mutation and broadcast traffic for it. It is an explicit
// registry created at startup and passed to connection handlers, not
// ambient global state.
type SessionHub struct {
	store  *TourStore
	config HubConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	persist chan persistRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type persistRequest struct {
	id   string
	tour *Tour
}

// Session wraps one tour plus its connected clients. The session mutex is
// the single-writer section for the tour: only the hub's update path
// mutates it, one update at a time. Sessions for different tours are
// independent.
type Session struct {
	ID string

	mu       sync.Mutex
	tour     *Tour
	clients  map[*SessionClient]struct{}
	presence *presenceTracker
}

// SessionClient is one attached connection within a session.
type SessionClient struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	closing sync.Once
}

// ClientID returns the per-connection identity used for presence.
func (c *SessionClient) ClientID() string {
	return c.id
}

// NewSessionHub creates a hub over the given store and starts its
// asynchronous persistence worker.
func NewSessionHub(store *TourStore, cfg HubConfig) *SessionHub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PersistBuffer <= 0 {
		cfg.PersistBuffer = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &SessionHub{
		store:    store,
		config:   cfg,
		sessions: make(map[string]*Session),
		persist:  make(chan persistRequest, cfg.PersistBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}

	h.wg.Add(1)
	go h.persistWorker()

	return h
}

// Preload creates sessions for every tour already in the store, the way the
// server re-populates its registry at startup. Snapshots that fail to load
// are skipped with a log line.
func (h *SessionHub) Preload(ctx context.Context) error {
	ids, err := h.store.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		t, err := h.store.Load(ctx, id)
		if err != nil {
			log.Printf("tour: [%s] skipping stored snapshot: %v", id, err)
			continue
		}
		h.mu.Lock()
		if _, ok := h.sessions[id]; !ok {
			h.sessions[id] = newSession(id, t)
		}
		h.mu.Unlock()
	}
	return nil
}

func newSession(id string, t *Tour) *Session {
	return &Session{
		ID:       id,
		tour:     t,
		clients:  make(map[*SessionClient]struct{}),
		presence: newPresenceTracker(),
	}
}

// OpenSession returns the session for id, creating it if needed. An unknown
// identity is seeded with the default tour and persisted immediately. A
// snapshot that exists but cannot be decoded is skipped with a log line and
// also falls back to the seed; this is an accepted-loss failure mode and
// never fails the open.
func (h *SessionHub) OpenSession(ctx context.Context, id string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if sess, ok := h.sessions[id]; ok {
		return sess, nil
	}

	t, err := h.store.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrTourNotFound) {
			log.Printf("tour: [%s] load failed, seeding default: %v", id, err)
		} else if storeErr := (*StoreError)(nil); errors.As(err, &storeErr) && storeErr.Type == StoreErrorTypeDecode {
			log.Printf("tour: [%s] corrupt snapshot skipped, seeding default: %v", id, err)
		}
		t = DefaultTour()
		if err := h.store.Save(ctx, id, t); err != nil {
			log.Printf("tour: [%s] persist of seed failed: %v", id, err)
		}
	}

	sess := newSession(id, t)
	h.sessions[id] = sess
	return sess, nil
}

// LookupSession returns an already-open session without creating one.
func (h *SessionHub) LookupSession(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[id]
	return sess, ok
}

// Attach registers a connection with a session, immediately queues a
// snapshot message carrying the full tour and live presence, and starts the
// connection's read and write pumps.
func (h *SessionHub) Attach(sess *Session, conn *websocket.Conn) (*SessionClient, error) {
	c := &SessionClient{
		id:   generateClientID(),
		conn: conn,
		send: make(chan []byte, h.config.SendBuffer),
	}

	sess.mu.Lock()
	snapshot, err := EncodeSnapshot(sess.tour, sess.presence.Snapshot())
	if err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	sess.clients[c] = struct{}{}
	c.send <- snapshot
	count := len(sess.clients)
	sess.mu.Unlock()

	h.wg.Add(2)
	go h.readPump(sess, c)
	go h.writePump(sess, c)

	log.Printf("tour: [%s] connected (%d clients)", sess.ID, count)
	return c, nil
}

// Detach removes a connection from its session, drops its presence entry,
// and notifies the remaining clients that the entry is gone. It is safe to
// call more than once.
func (h *SessionHub) Detach(sess *Session, c *SessionClient) {
	sess.mu.Lock()
	_, attached := sess.clients[c]
	if attached {
		delete(sess.clients, c)
		sess.presence.Clear(c.id)
		if msg, err := EncodePresence(c.id, ""); err == nil {
			sess.broadcastLocked(msg, nil)
		}
	}
	sess.mu.Unlock()

	c.closing.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// ApplyUpdate applies an ordered patch to the session's tour. On success
// the identical raw patch is rebroadcast to every other attached client and
// an asynchronous persist is scheduled. On failure the update is dropped
// and logged; no broadcast or persist occurs, and the sender's replica may
// be out of sync until its next full snapshot. Updates on one session are
// serialized in arrival order; there is no merge or rebase.
//
// A nil sender marks a server-originated update, which is broadcast to all
// attached clients.
func (h *SessionHub) ApplyUpdate(sess *Session, sender *SessionClient, patch Patch) error {
	sess.mu.Lock()
	next, err := ApplyPatch(sess.tour, patch)
	if err != nil {
		sess.mu.Unlock()
		log.Printf("tour: [%s] update rejected: %v", sess.ID, err)
		return err
	}
	sess.tour = next

	msg, encErr := EncodeUpdate(patch)
	if encErr == nil {
		sess.broadcastLocked(msg, sender)
	}
	snapshot := next.Clone()
	sess.mu.Unlock()

	h.schedulePersist(sess.ID, snapshot)
	return nil
}

// broadcastLocked fans a message out to every attached client except skip.
// The caller holds the session mutex, which preserves the arrival order of
// applied updates across clients. A client whose send buffer is full has
// the message dropped; its replica resynchronizes on the next snapshot.
func (sess *Session) broadcastLocked(msg []byte, skip *SessionClient) {
	for c := range sess.clients {
		if c == skip {
			continue
		}
		select {
		case c.send <- msg:
		default:
			log.Printf("tour: [%s] dropping message for slow client %s", sess.ID, c.id)
		}
	}
}

// Snapshot returns a deep copy of the session's current tour.
func (sess *Session) Snapshot() *Tour {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.tour.Clone()
}

// Presence returns a copy of the session's live presence map.
func (sess *Session) Presence() map[string]string {
	return sess.presence.Snapshot()
}

// ClientCount returns the number of attached clients.
func (sess *Session) ClientCount() int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.clients)
}

func (h *SessionHub) handlePresence(sess *Session, c *SessionClient, scene string) {
	sess.mu.Lock()
	if scene == "" {
		sess.presence.Clear(c.id)
	} else {
		sess.presence.Set(c.id, scene)
	}
	// Restamp the sender identity; clients cannot impersonate each other.
	if msg, err := EncodePresence(c.id, scene); err == nil {
		sess.broadcastLocked(msg, c)
	}
	sess.mu.Unlock()
}

func (h *SessionHub) readPump(sess *Session, c *SessionClient) {
	defer h.wg.Done()
	defer h.Detach(sess, c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := DecodeMessage(raw)
		if err != nil {
			// Malformed inbound messages are dropped; the connection
			// stays open and the session continues for everyone else.
			log.Printf("tour: [%s] dropping message from %s: %v", sess.ID, c.id, err)
			continue
		}

		switch msg.Type {
		case MessageUpdate:
			_ = h.ApplyUpdate(sess, c, Patch(msg.Data))
		case MessagePresence:
			h.handlePresence(sess, c, msg.Scene)
		default:
			log.Printf("tour: [%s] unexpected %s message from client %s", sess.ID, msg.Type, c.id)
		}
	}
}

func (h *SessionHub) writePump(sess *Session, c *SessionClient) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// schedulePersist queues an asynchronous full-snapshot persist. Persistence
// is fire-and-forget: broadcast never waits on write completion, and a
// write failure is logged without being raised to connected clients.
func (h *SessionHub) schedulePersist(id string, t *Tour) {
	select {
	case h.persist <- persistRequest{id: id, tour: t}:
	default:
		log.Printf("tour: [%s] persist queue full, snapshot deferred", id)
	}
}

func (h *SessionHub) persistWorker() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case req := <-h.persist:
			if err := h.store.Save(context.Background(), req.id, req.tour); err != nil {
				log.Printf("tour: [%s] persist failed: %v", req.id, err)
			}
		}
	}
}

// Close detaches every client, stops the background workers, and writes a
// final snapshot of each session so no applied update is lost on shutdown.
func (h *SessionHub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		clients := make([]*SessionClient, 0, len(sess.clients))
		for c := range sess.clients {
			clients = append(clients, c)
		}
		sess.clients = make(map[*SessionClient]struct{})
		sess.mu.Unlock()
		for _, c := range clients {
			c.closing.Do(func() {
				close(c.send)
				_ = c.conn.Close()
			})
		}
	}

	h.cancel()
	h.wg.Wait()

	var firstErr error
	for _, sess := range sessions {
		sess.mu.Lock()
		t := sess.tour.Clone()
		sess.mu.Unlock()
		if err := h.store.Save(context.Background(), sess.ID, t); err != nil {
			log.Printf("tour: [%s] final persist failed: %v", sess.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func generateClientID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
