package services

import (
	"sync"

	"github.com/google/uuid"
)

// CallLink ties an in-flight call to the sessions that set it up. It lives
// only in memory; a restart loses it and calls recover from the store.
type CallLink struct {
	CallID          uuid.UUID
	CallerID        string
	CallerSessionID string
	CalleeID        string
	CalleeSessionID string
}

// Peer returns the other participant of the link
func (l CallLink) Peer(userID string) (peerID, peerSessionID string, ok bool) {
	switch userID {
	case l.CallerID:
		return l.CalleeID, l.CalleeSessionID, true
	case l.CalleeID:
		return l.CallerID, l.CallerSessionID, true
	}
	return "", "", false
}

type Directory struct {
	mu    sync.RWMutex
	links map[uuid.UUID]CallLink
}

func NewDirectory() *Directory {
	return &Directory{
		links: make(map[uuid.UUID]CallLink),
	}
}

// Open records a link. The caller has already confirmed the callee is
// present. An existing link for the same call is overwritten.
func (d *Directory) Open(link CallLink) {
	d.mu.Lock()
	d.links[link.CallID] = link
	d.mu.Unlock()
}

func (d *Directory) Resolve(callID uuid.UUID) (CallLink, bool) {
	d.mu.RLock()
	link, ok := d.links[callID]
	d.mu.RUnlock()
	return link, ok
}

// Close removes the link and reports whether there was one to remove
func (d *Directory) Close(callID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.links[callID]; !ok {
		return false
	}
	delete(d.links, callID)
	return true
}

// CallsForUser lists calls in which userID is caller or callee
func (d *Directory) CallsForUser(userID string) []uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []uuid.UUID
	for id, link := range d.links {
		if link.CallerID == userID || link.CalleeID == userID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.links)
}
