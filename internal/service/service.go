// Package service implements the routing core: conversation lifecycle,
// message routing, bot hand-off, and escalation coordination.
package service

import (
	"sync"

	"github.com/omnidesk/support-router/internal/model"
)

// Broadcaster publishes real-time events to connected sessions. Implemented
// by the hub; services never touch session state directly.
type Broadcaster interface {
	BroadcastToConversation(conversationID string, event model.Event)
	BroadcastToAgents(event model.Event)
	BroadcastAll(event model.Event)
}

// keyedMutex serializes operations per string key. Lock entries are
// reference counted and removed when the last holder unlocks, so the map
// does not grow with customer cardinality.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (km *keyedMutex) Lock(key string) {
	km.mu.Lock()
	lock, ok := km.locks[key]
	if !ok {
		lock = &keyedLock{}
		km.locks[key] = lock
	}
	lock.refs++
	km.mu.Unlock()

	lock.mu.Lock()
}

func (km *keyedMutex) Unlock(key string) {
	km.mu.Lock()
	lock := km.locks[key]
	lock.refs--
	if lock.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	lock.mu.Unlock()
}
