package tour

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// backoff implements the failure-driven doubling delay used for both
// retransmission and reconnection. The delay strictly doubles on each
// consecutive failure and resets to the floor immediately upon success.
type backoff struct {
	floor time.Duration
	delay time.Duration
}

func newBackoff(floor time.Duration) *backoff {
	return &backoff{floor: floor, delay: floor}
}

func (b *backoff) fail() time.Duration {
	b.delay *= 2
	return b.delay
}

func (b *backoff) reset() {
	b.delay = b.floor
}

// SyncClient keeps a local tour replica converged with a session hub. Local
// mutations are debounced, diffed against the last transmitted state, and
// sent as ordered patches with retransmit backoff; inbound broadcasts are
// applied in place. The connection is re-established indefinitely with
// growing backoff, with no cap and no giving up.
type SyncClient struct {
	// OnChange is called with a copy of the replica after it changes,
	// whether from a local mutation, an inbound update, or a snapshot.
	// Set before Start.
	OnChange func(*Tour)

	// OnPresence is called with a copy of the presence map after it
	// changes. Set before Start.
	OnPresence func(map[string]string)

	url    string
	config SyncConfig

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	replica   *Tour
	lastKnown *Tour
	queue     []Patch
	presence  map[string]string
	announced string

	retransmit   *backoff
	reconnect    *backoff
	retryPending bool
	retry        *time.Timer
	debounce     *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncClient creates a sync engine for the given WebSocket URL
// (ws://host/tours/<id>). Call Start to connect.
func NewSyncClient(url string, cfg SyncConfig) *SyncClient {
	if cfg.RetransmitFloor <= 0 {
		cfg.RetransmitFloor = 100 * time.Millisecond
	}
	if cfg.ReconnectFloor <= 0 {
		cfg.ReconnectFloor = 500 * time.Millisecond
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 250 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SyncClient{
		url:        url,
		config:     cfg,
		presence:   make(map[string]string),
		retransmit: newBackoff(cfg.RetransmitFloor),
		reconnect:  newBackoff(cfg.ReconnectFloor),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the connection lifecycle in the background.
func (c *SyncClient) Start() {
	c.wg.Add(1)
	go c.run()
}

// Close tears down the connection and stops all background work.
func (c *SyncClient) Close() error {
	c.cancel()
	c.mu.Lock()
	if c.debounce != nil {
		c.debounce.Stop()
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retryPending = false
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

func (c *SyncClient) run() {
	defer c.wg.Done()

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			delay := c.reconnect.fail()
			c.mu.Unlock()
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.retransmit.reset()
		c.reconnect.reset()
		c.mu.Unlock()

		c.readLoop(conn)

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		delay := c.reconnect.fail()
		c.mu.Unlock()

		if c.ctx.Err() != nil {
			return
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *SyncClient) readLoop(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := DecodeMessage(raw)
		if err != nil {
			log.Printf("tour: dropping inbound message: %v", err)
			continue
		}

		switch msg.Type {
		case MessageSnapshot:
			c.handleSnapshot(msg)
		case MessageUpdate:
			c.handleUpdate(msg)
		case MessagePresence:
			c.handlePresenceMessage(msg)
		}
	}
}

// handleSnapshot fully replaces the replica and presence view. Any queued
// patches were computed against a baseline that no longer exists, so the
// queue is discarded rather than replayed; subsequent mutations diff
// against the fresh snapshot.
func (c *SyncClient) handleSnapshot(msg *Message) {
	var t Tour
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		log.Printf("tour: dropping malformed snapshot: %v", err)
		return
	}

	c.mu.Lock()
	c.replica = &t
	c.lastKnown = t.Clone()
	c.queue = nil
	c.retransmit.reset()
	c.presence = make(map[string]string, len(msg.Presence))
	for id, scene := range msg.Presence {
		c.presence[id] = scene
	}
	// Re-announce our own location so other clients see us again after a
	// reconnect.
	if c.announced != "" && c.conn != nil {
		if out, err := EncodePresence("", c.announced); err == nil {
			_ = c.conn.WriteMessage(websocket.TextMessage, out)
		}
	}
	onChange, onPresence := c.OnChange, c.OnPresence
	replica := c.replica.Clone()
	presence := c.presenceCopyLocked()
	c.mu.Unlock()

	if onChange != nil {
		onChange(replica)
	}
	if onPresence != nil {
		onPresence(presence)
	}
}

// handleUpdate applies an inbound broadcast patch in place. The same patch
// is applied to the diff baseline so a remote edit never echoes back as a
// new outbound diff; pending local divergence is preserved.
func (c *SyncClient) handleUpdate(msg *Message) {
	c.mu.Lock()
	if c.replica == nil {
		c.mu.Unlock()
		return
	}
	next, err := ApplyPatch(c.replica, Patch(msg.Data))
	if err != nil {
		// Replica may be out of sync until the next snapshot; the hub's
		// copy stays authoritative.
		c.mu.Unlock()
		log.Printf("tour: dropping inbound update: %v", err)
		return
	}
	c.replica = next
	if rebased, err := ApplyPatch(c.lastKnown, Patch(msg.Data)); err == nil {
		c.lastKnown = rebased
	} else {
		c.lastKnown = next.Clone()
	}
	onChange := c.OnChange
	replica := c.replica.Clone()
	c.mu.Unlock()

	if onChange != nil {
		onChange(replica)
	}
}

func (c *SyncClient) handlePresenceMessage(msg *Message) {
	c.mu.Lock()
	if msg.Scene == "" {
		delete(c.presence, msg.ID)
	} else {
		c.presence[msg.ID] = msg.Scene
	}
	onPresence := c.OnPresence
	presence := c.presenceCopyLocked()
	c.mu.Unlock()

	if onPresence != nil {
		onPresence(presence)
	}
}

func (c *SyncClient) presenceCopyLocked() map[string]string {
	out := make(map[string]string, len(c.presence))
	for id, scene := range c.presence {
		out[id] = scene
	}
	return out
}

// Update runs a mutation against the local replica. The change takes
// effect immediately; transmission is debounced so bursts coalesce into a
// single patch. A mutation that returns an error is treated as a rejected
// local action: nothing is sent to the hub.
func (c *SyncClient) Update(mutate func(*Tour) error) error {
	c.mu.Lock()
	if c.replica == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if err := mutate(c.replica); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.config.DebounceWindow, c.diffNow)
	c.mu.Unlock()
	return nil
}

// diffNow computes the patch between the last transmitted state and the
// current replica, queues it if non-empty, and rebaselines. The baseline
// always advances so the same change is never diffed twice.
func (c *SyncClient) diffNow() {
	c.mu.Lock()
	if c.replica == nil {
		c.mu.Unlock()
		return
	}
	patch, err := DiffTours(c.lastKnown, c.replica)
	c.lastKnown = c.replica.Clone()
	if err != nil {
		c.mu.Unlock()
		log.Printf("tour: diff failed: %v", err)
		return
	}
	if len(patch) == 0 {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, patch)
	c.flushLocked()
	c.mu.Unlock()
}

// Flush attempts to transmit queued patches immediately.
func (c *SyncClient) Flush() {
	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()
}

// flushLocked sends the queue head and, on success, immediately moves on
// to the new head so newly arrived patches never starve older ones. When
// the transport is not ready the retransmit delay doubles and a retry is
// scheduled without dequeuing.
func (c *SyncClient) flushLocked() {
	for len(c.queue) > 0 {
		if !c.connected || c.conn == nil {
			c.scheduleRetryLocked()
			return
		}
		msg, err := EncodeUpdate(c.queue[0])
		if err != nil {
			log.Printf("tour: dropping unencodable patch: %v", err)
			c.queue = c.queue[1:]
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.scheduleRetryLocked()
			return
		}
		c.queue = c.queue[1:]
		c.retransmit.reset()
	}
}

func (c *SyncClient) scheduleRetryLocked() {
	if c.retryPending || c.ctx.Err() != nil {
		return
	}
	c.retryPending = true
	delay := c.retransmit.fail()
	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retryPending = false
		if c.ctx.Err() == nil {
			c.flushLocked()
		}
		c.mu.Unlock()
	})
}

// Announce transmits the scene this client is currently viewing. An empty
// scene clears the entry. The announcement is remembered and re-sent after
// every reconnect.
func (c *SyncClient) Announce(scene string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announced = scene
	if !c.connected || c.conn == nil {
		// Sent automatically once the next snapshot arrives.
		return nil
	}
	msg, err := EncodePresence("", scene)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Snapshot returns a deep copy of the local replica, or ErrNotConnected if
// no bootstrap snapshot has been received yet.
func (c *SyncClient) Snapshot() (*Tour, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replica == nil {
		return nil, ErrNotConnected
	}
	return c.replica.Clone(), nil
}

// Presence returns a copy of the local presence view.
func (c *SyncClient) Presence() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presenceCopyLocked()
}

// Connected reports whether the transport is currently established.
func (c *SyncClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// QueuedPatches returns the number of patches awaiting transmission.
func (c *SyncClient) QueuedPatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
