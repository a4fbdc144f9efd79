// lock/lock.go
package lock

import (
	"sync"
	"time"

	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/timer"
)

// DefaultTTL bounds how long a crashed or disconnected holder can keep a
// physical prop unusable.
const DefaultTTL = 30 * time.Second

// Result is the negotiated outcome of an Acquire. Denied is not an error;
// Holder carries the current holder's identity so clients can show who is
// interacting.
type Result struct {
	Granted bool
	Holder  string
}

// ExpiryFunc is invoked after a lock auto-releases on TTL timeout.
type ExpiryFunc func(sessionID int64, resourceID, holder string)

type key struct {
	sessionID  int64
	resourceID string
}

// Each entry transitions Free → Held → Free under its own mutex, so
// different keys never contend. generation disambiguates the race between
// an in-flight expiry callback and an explicit release followed by a fresh
// acquire: the loser sees a stale generation and no-ops. Freed entries are
// purged from the table; purged marks an entry that left the table so an
// acquirer holding a stale pointer retries instead of locking an orphan.
type entry struct {
	mutex      sync.Mutex
	held       bool
	purged     bool
	holder     string
	acquiredAt time.Time
	expiresAt  time.Time
	timerID    int64
	generation uint64
}

// Manager 物理道具互斥锁管理器
type Manager struct {
	ttl       time.Duration
	timers    *timer.Manager
	onExpired ExpiryFunc

	mutex   sync.RWMutex
	entries map[key]*entry
}

func NewManager(ttl time.Duration, timers *timer.Manager) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		ttl:     ttl,
		timers:  timers,
		entries: make(map[key]*entry),
	}
}

// SetOnExpired installs the timeout notification hook. Must be called
// before the manager is shared.
func (m *Manager) SetOnExpired(fn ExpiryFunc) {
	m.onExpired = fn
}

func (m *Manager) entryFor(k key) *entry {
	m.mutex.RLock()
	e, exists := m.entries[k]
	m.mutex.RUnlock()
	if exists {
		return e
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e, exists := m.entries[k]; exists {
		return e
	}
	e = &entry{}
	m.entries[k] = e
	return e
}

// Acquire grants the lock if free, otherwise reports the current holder.
func (m *Manager) Acquire(sessionID int64, resourceID, holder string) Result {
	k := key{sessionID: sessionID, resourceID: resourceID}

	for {
		e := m.entryFor(k)
		e.mutex.Lock()
		if e.purged {
			e.mutex.Unlock()
			continue
		}

		if e.held {
			current := e.holder
			e.mutex.Unlock()
			logger.Log.Infof("lock denied: %s/%d held by %s, requested by %s",
				resourceID, sessionID, current, holder)
			return Result{Granted: false, Holder: current}
		}

		now := time.Now()
		e.held = true
		e.holder = holder
		e.acquiredAt = now
		e.expiresAt = now.Add(m.ttl)
		e.generation++
		generation := e.generation
		e.timerID = m.timers.Add(m.ttl, func() {
			m.expire(k, generation)
		})
		e.mutex.Unlock()

		logger.Log.Infof("lock granted: %s/%d to %s", resourceID, sessionID, holder)
		return Result{Granted: true, Holder: holder}
	}
}

// Release frees the lock if, and only if, the caller is the current holder.
// A stale release from a disconnected client must never evict a legitimate
// new holder, so anything else is a silent no-op.
func (m *Manager) Release(sessionID int64, resourceID, holder string) bool {
	k := key{sessionID: sessionID, resourceID: resourceID}

	m.mutex.RLock()
	e, exists := m.entries[k]
	m.mutex.RUnlock()
	if !exists {
		return false
	}

	e.mutex.Lock()
	if !e.held || e.holder != holder {
		logger.Log.Warnf("stale release ignored: %s/%d by %s (holder %q)",
			resourceID, sessionID, holder, e.holder)
		e.mutex.Unlock()
		return false
	}

	m.timers.Remove(e.timerID)
	e.held = false
	e.holder = ""
	e.mutex.Unlock()

	m.purge(k, e)
	logger.Log.Infof("lock released: %s/%d by %s", resourceID, sessionID, holder)
	return true
}

// Reset force-frees every lock and empties the table. Expiry timers are
// cancelled; no per-lock notifications fire.
func (m *Manager) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, e := range m.entries {
		e.mutex.Lock()
		if e.held {
			m.timers.Remove(e.timerID)
			e.held = false
			e.holder = ""
		}
		e.purged = true
		e.mutex.Unlock()
	}
	m.entries = make(map[key]*entry)
}

// Holder returns the current holder identity, if the lock is held.
func (m *Manager) Holder(sessionID int64, resourceID string) (string, bool) {
	m.mutex.RLock()
	e, exists := m.entries[key{sessionID: sessionID, resourceID: resourceID}]
	m.mutex.RUnlock()
	if !exists {
		return "", false
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if !e.held {
		return "", false
	}
	return e.holder, true
}

// ActiveCount 当前被持有的锁数量
func (m *Manager) ActiveCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	count := 0
	for _, e := range m.entries {
		e.mutex.Lock()
		if e.held {
			count++
		}
		e.mutex.Unlock()
	}
	return count
}

// expire runs when the TTL elapses without an explicit release. A release
// that won the race already freed the entry, and a fresh acquire bumped the
// generation; either way this becomes a no-op.
func (m *Manager) expire(k key, generation uint64) {
	m.mutex.RLock()
	e, exists := m.entries[k]
	m.mutex.RUnlock()
	if !exists {
		return
	}

	e.mutex.Lock()
	if !e.held || e.generation != generation {
		e.mutex.Unlock()
		return
	}
	holder := e.holder
	e.held = false
	e.holder = ""
	e.mutex.Unlock()

	m.purge(k, e)
	logger.Log.Warnf("lock timeout: %s/%d auto-released (was held by %s)",
		k.resourceID, k.sessionID, holder)
	if m.onExpired != nil {
		m.onExpired(k.sessionID, k.resourceID, holder)
	}
}

// purge drops a freed entry from the table so it does not accumulate for
// the process lifetime. Locks are taken table-then-entry, the same order as
// everywhere else; an acquire that won the race keeps the entry alive, and
// an acquirer holding the stale pointer sees purged and retries.
func (m *Manager) purge(k key, e *entry) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.entries[k] != e {
		return
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.held {
		return
	}
	e.purged = true
	delete(m.entries, k)
}
