// Package call manages active relayed calls
package call

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shiv6146/callbridge/internal/bridge"
	"github.com/shiv6146/callbridge/internal/models"
)

// ActiveCallStore mirrors live calls outside the process
type ActiveCallStore interface {
	SetActiveCall(ctx context.Context, sessionID string, data map[string]string) error
	RemoveActiveCall(ctx context.Context, sessionID string) error
}

// Manager manages active bridges
type Manager struct {
	base    bridge.Options
	tracker ActiveCallStore
	log     zerolog.Logger

	bridges map[string]*bridge.Bridge
	mu      sync.RWMutex
}

// NewManager creates a new call manager. Every bridge it starts is built
// from base. tracker may be nil.
func NewManager(base bridge.Options, tracker ActiveCallStore, logger zerolog.Logger) *Manager {
	return &Manager{
		base:    base,
		tracker: tracker,
		log:     logger,
		bridges: make(map[string]*bridge.Bridge),
	}
}

// Serve relays one accepted media-stream socket until the call ends.
// clientName and phoneNumber personalize the greeting when the start event
// carries none.
func (m *Manager) Serve(ctx context.Context, conn bridge.Conn, clientName, phoneNumber string) error {
	opts := m.base
	opts.ClientName = clientName
	opts.PhoneNumber = phoneNumber

	b := bridge.New(conn, opts)
	m.add(ctx, b, clientName, phoneNumber)
	defer m.remove(b.ID())

	return b.Handle(ctx)
}

func (m *Manager) add(ctx context.Context, b *bridge.Bridge, clientName, phoneNumber string) {
	m.mu.Lock()
	m.bridges[b.ID()] = b
	m.mu.Unlock()

	if m.tracker != nil {
		if err := m.tracker.SetActiveCall(ctx, b.ID(), map[string]string{
			"client_name":  clientName,
			"phone_number": phoneNumber,
			"status":       string(models.CallStatusInProgress),
		}); err != nil {
			m.log.Warn().Err(err).Str("session_id", b.ID()).Msg("Failed to track active call")
		}
	}

	m.log.Debug().Str("session_id", b.ID()).Msg("Bridge registered")
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	_, ok := m.bridges[sessionID]
	delete(m.bridges, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if m.tracker != nil {
		if err := m.tracker.RemoveActiveCall(context.Background(), sessionID); err != nil {
			m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to untrack active call")
		}
	}

	m.log.Debug().Str("session_id", sessionID).Msg("Bridge removed")
}

// Snapshots returns the state of every live bridge
func (m *Manager) Snapshots() []bridge.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]bridge.Snapshot, 0, len(m.bridges))
	for _, b := range m.bridges {
		out = append(out, b.Session().Snapshot())
	}
	return out
}

// CloseAll forces every live bridge to tear down. Serve calls return as
// their bridges finish.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	live := make([]*bridge.Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		live = append(live, b)
	}
	m.mu.RUnlock()

	for _, b := range live {
		b.Close()
	}

	m.log.Info().Int("bridges", len(live)).Msg("All bridges closed")
}

// ActiveCount returns the number of live bridges
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bridges)
}
