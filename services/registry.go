package services

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
)

type presenceEntry struct {
	sessionID       string
	status          models.PresenceStatus
	callID          string
	lastHeartbeatAt time.Time
	generation      uint64
	deadline        *clock.Timer
}

func (e *presenceEntry) snapshot(userID string) models.PresenceEntry {
	return models.PresenceEntry{
		UserID:          userID,
		SessionID:       e.sessionID,
		Status:          e.status,
		CallID:          e.callID,
		LastHeartbeatAt: e.lastHeartbeatAt,
	}
}

// Registry tracks the current session and liveness deadline of every
// connected user. It holds no I/O; side effects belong to PresenceService.
//
// Every arm of a deadline gets a new generation. A deadline that fires
// after its entry was refreshed, replaced or removed sees a different
// generation and does nothing, even if Stop lost the race.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*presenceEntry
	clock      clock.Clock
	window     time.Duration
	generation uint64
	onExpire   func(models.PresenceEntry)
}

func NewRegistry(clk clock.Clock, window time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*presenceEntry),
		clock:   clk,
		window:  window,
	}
}

// OnExpire sets the callback run, outside the lock, when a deadline lapses
func (r *Registry) OnExpire(fn func(models.PresenceEntry)) {
	r.mu.Lock()
	r.onExpire = fn
	r.mu.Unlock()
}

// Announce registers sessionID as userID's current session. A previous
// entry is superseded: its deadline is cancelled and its call state is
// carried over.
func (r *Registry) Announce(userID, sessionID string) (previous models.PresenceEntry, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &presenceEntry{
		sessionID:       sessionID,
		status:          models.PresenceOnline,
		lastHeartbeatAt: r.clock.Now(),
	}

	if old, ok := r.entries[userID]; ok {
		old.deadline.Stop()
		previous, replaced = old.snapshot(userID), true
		entry.status = old.status
		entry.callID = old.callID
	}

	r.entries[userID] = entry
	r.arm(userID, entry)
	return previous, replaced
}

// Heartbeat pushes the deadline out. It reports false, and does nothing,
// when the user is not registered.
func (r *Registry) Heartbeat(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok {
		return false
	}
	entry.deadline.Stop()
	entry.lastHeartbeatAt = r.clock.Now()
	r.arm(userID, entry)
	return true
}

// Remove drops the entry for userID regardless of session
func (r *Registry) Remove(userID string) (models.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(userID, func(*presenceEntry) bool { return true })
}

// RemoveSession drops the entry only if sessionID is still current, so a
// superseded socket closing late cannot take the newer one with it.
func (r *Registry) RemoveSession(userID, sessionID string) (models.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(userID, func(e *presenceEntry) bool { return e.sessionID == sessionID })
}

// RemoveIfStale drops the entry only if its last heartbeat is before cutoff
func (r *Registry) RemoveIfStale(userID string, cutoff time.Time) (models.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(userID, func(e *presenceEntry) bool { return e.lastHeartbeatAt.Before(cutoff) })
}

// Lookup returns the current session of userID
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok {
		return "", false
	}
	return entry.sessionID, true
}

// IsAvailable is true iff userID has an entry
func (r *Registry) IsAvailable(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[userID]
	return ok
}

func (r *Registry) Get(userID string) (models.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok {
		return models.PresenceEntry{}, false
	}
	return entry.snapshot(userID), true
}

// Snapshot returns all entries ordered by user id
func (r *Registry) Snapshot() []models.PresenceEntry {
	r.mu.Lock()
	out := make([]models.PresenceEntry, 0, len(r.entries))
	for userID, entry := range r.entries {
		out = append(out, entry.snapshot(userID))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// StaleUsers lists users whose last heartbeat is before cutoff
func (r *Registry) StaleUsers(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for userID, entry := range r.entries {
		if entry.lastHeartbeatAt.Before(cutoff) {
			stale = append(stale, userID)
		}
	}
	sort.Strings(stale)
	return stale
}

// SetInCall marks userID as busy with callID
func (r *Registry) SetInCall(userID, callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok {
		return false
	}
	entry.status = models.PresenceInCall
	entry.callID = callID
	return true
}

// ClearCall returns userID to online if it is in-call for callID. It
// reports whether the status changed.
func (r *Registry) ClearCall(userID, callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok || entry.status != models.PresenceInCall || entry.callID != callID {
		return false
	}
	entry.status = models.PresenceOnline
	entry.callID = ""
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// arm must be called with r.mu held
func (r *Registry) arm(userID string, entry *presenceEntry) {
	r.generation++
	gen := r.generation
	entry.generation = gen
	entry.deadline = r.clock.AfterFunc(r.window, func() {
		r.expire(userID, gen)
	})
}

func (r *Registry) removeLocked(userID string, match func(*presenceEntry) bool) (models.PresenceEntry, bool) {
	entry, ok := r.entries[userID]
	if !ok || !match(entry) {
		return models.PresenceEntry{}, false
	}
	entry.deadline.Stop()
	delete(r.entries, userID)
	return entry.snapshot(userID), true
}

func (r *Registry) expire(userID string, gen uint64) {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if !ok || entry.generation != gen {
		r.mu.Unlock()
		return
	}
	delete(r.entries, userID)
	snap := entry.snapshot(userID)
	onExpire := r.onExpire
	r.mu.Unlock()

	if onExpire != nil {
		onExpire(snap)
	}
}
