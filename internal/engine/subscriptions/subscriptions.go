// Package subscriptions implements the Subscription Manager (spec.md
// §4.6): the set of active persistent-channel sessions and safe broadcast
// to all of them.
package subscriptions

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
)

// sendTimeout bounds how long a single subscriber's send may take before
// it is dropped for that broadcast (spec.md §5 Backpressure policy).
const sendTimeout = 200 * time.Millisecond

// SessionRecord is one authenticated persistent-channel connection (spec.md
// §3). Send delivers one event to this subscriber; it must not block past
// sendTimeout.
type SessionRecord struct {
	ID     int
	Claims auth.TokenData
	Send   func(session.UpdateEvent) error
}

// Manager owns the id -> SessionRecord map and the monotone id counter.
type Manager struct {
	mu      sync.RWMutex
	records map[int]*SessionRecord
	nextID  int
	log     zerolog.Logger
}

// New builds an empty Manager.
func New(log zerolog.Logger) *Manager {
	return &Manager{records: make(map[int]*SessionRecord), log: log}
}

// Register is only ever called after a successful handshake (spec.md §4.7);
// it assigns a fresh monotone id and returns the new SessionRecord.
func (m *Manager) Register(claims auth.TokenData, send func(session.UpdateEvent) error) *SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec := &SessionRecord{ID: m.nextID, Claims: claims, Send: send}
	m.records[rec.ID] = rec
	return rec
}

// Remove deletes a session record, idempotently. Called on ConnectionClosed
// or when a broadcast observes a closed connection.
func (m *Manager) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}

// Count reports the number of currently registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// snapshot copies the current id set so Broadcast never iterates the live,
// mutating map (spec.md §9 "Broadcasting while the subscriber set
// mutates").
func (m *Manager) snapshot() []*SessionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SessionRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}

// Broadcast delivers e to every session that was registered at the moment
// of the snapshot. It is best-effort: a send that blocks past sendTimeout
// is abandoned for that subscriber and logged; a subscriber whose
// connection already closed is removed, but that never interrupts
// delivery to the others.
func (m *Manager) Broadcast(e session.UpdateEvent) {
	for _, rec := range m.snapshot() {
		rec := rec
		done := make(chan error, 1)
		go func() { done <- rec.Send(e) }()

		select {
		case err := <-done:
			if err != nil {
				m.log.Warn().Int("session_id", rec.ID).Err(err).Msg("broadcast send failed, removing session")
				m.Remove(rec.ID)
			}
		case <-time.After(sendTimeout):
			m.log.Warn().Int("session_id", rec.ID).Msg("broadcast send timed out, dropped for this subscriber")
		}
	}
}

// Run consumes events off bus until it is closed, broadcasting each to the
// current subscriber snapshot. Intended to run in its own goroutine for
// the lifetime of the server.
func (m *Manager) Run(events <-chan session.UpdateEvent) {
	for e := range events {
		m.Broadcast(e)
	}
}
