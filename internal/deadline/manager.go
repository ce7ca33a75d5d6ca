package deadline

import (
	"sync"
	"time"

	"github.com/kartikbazzad/bunrpc/internal/protocol"
)

// Manager sweeps a timing wheel on a fixed interval and invokes
// onExpire for every MessageId whose deadline has passed. One Manager
// is shared by all outstanding calls (client side) or all outstanding
// executions (server side); it replaces one time.AfterFunc per call
// with a single background sweeper.
type Manager struct {
	mu       sync.RWMutex
	deadlines map[protocol.MessageId]time.Time
	wheel    *wheel
	onExpire func(id protocol.MessageId)
	stop     chan struct{}
	interval time.Duration
	stopOnce sync.Once
}

// NewManager starts a Manager that checks for expirations every
// checkInterval (defaulting to 100ms, finer than the ttl package's
// default second-granularity sweep since RPC timeouts are typically
// sub-second to low-second).
func NewManager(onExpire func(id protocol.MessageId), checkInterval time.Duration) *Manager {
	if checkInterval <= 0 {
		checkInterval = 100 * time.Millisecond
	}
	m := &Manager{
		deadlines: make(map[protocol.MessageId]time.Time),
		wheel:    newWheel(100 * time.Millisecond),
		onExpire: onExpire,
		stop:     make(chan struct{}),
		interval: checkInterval,
	}
	go m.run()
	return m
}

// Set schedules id to expire at expires. Calling Set again for the
// same id replaces its deadline.
func (m *Manager) Set(id protocol.MessageId, expires time.Time) {
	m.mu.Lock()
	m.deadlines[id] = expires
	m.mu.Unlock()
	m.wheel.add(id, expires)
}

// Cancel removes id's scheduled expiration, returning false if it had
// already fired or was never set.
func (m *Manager) Cancel(id protocol.MessageId) bool {
	m.mu.Lock()
	_, ok := m.deadlines[id]
	delete(m.deadlines, id)
	m.mu.Unlock()
	if ok {
		m.wheel.remove(id)
	}
	return ok
}

func (m *Manager) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			for _, id := range m.wheel.expired(now) {
				m.mu.Lock()
				_, ok := m.deadlines[id]
				delete(m.deadlines, id)
				m.mu.Unlock()
				if ok && m.onExpire != nil {
					m.onExpire(id)
				}
			}
		}
	}
}

// Stop halts the background sweeper. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
