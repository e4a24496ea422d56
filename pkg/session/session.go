// Package session tracks the authenticated principal for the lifetime of the
// process and fans out change notifications to interested components.
package session

import (
	"strings"
	"sync"
)

// Principal is the authenticated user the wallet operates on behalf of.
type Principal struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
}

// NewPrincipal validates the identity fields.
func NewPrincipal(id string, email string, displayName string, avatarURL string) (Principal, error) {
	if strings.TrimSpace(id) == "" {
		return Principal{}, ErrInvalidPrincipal
	}
	return Principal{
		ID:          strings.TrimSpace(id),
		Email:       strings.TrimSpace(email),
		DisplayName: strings.TrimSpace(displayName),
		AvatarURL:   strings.TrimSpace(avatarURL),
	}, nil
}

// Provider exposes the current principal, or nil when signed out.
type Provider interface {
	Current() *Principal
}

// Listener receives the new principal on every transition. A nil principal
// means the session ended.
type Listener func(principal *Principal)

// Broadcaster is a Provider that owns the current principal and notifies
// subscribers on change.
type Broadcaster struct {
	mu        sync.Mutex
	current   *Principal
	listeners []Listener
}

// NewBroadcaster returns an empty signed-out Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Current returns a copy of the active principal, or nil.
func (broadcaster *Broadcaster) Current() *Principal {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if broadcaster.current == nil {
		return nil
	}
	copied := *broadcaster.current
	return &copied
}

// Subscribe registers a listener for principal transitions. The listener is
// invoked synchronously from SignIn and SignOut.
func (broadcaster *Broadcaster) Subscribe(listener Listener) {
	if listener == nil {
		return
	}
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	broadcaster.listeners = append(broadcaster.listeners, listener)
}

// SignIn installs the principal and notifies subscribers.
func (broadcaster *Broadcaster) SignIn(principal Principal) {
	broadcaster.mu.Lock()
	installed := principal
	broadcaster.current = &installed
	listeners := append([]Listener(nil), broadcaster.listeners...)
	broadcaster.mu.Unlock()
	notified := installed
	for _, listener := range listeners {
		listener(&notified)
	}
}

// SignOut clears the principal and notifies subscribers with nil.
func (broadcaster *Broadcaster) SignOut() {
	broadcaster.mu.Lock()
	broadcaster.current = nil
	listeners := append([]Listener(nil), broadcaster.listeners...)
	broadcaster.mu.Unlock()
	for _, listener := range listeners {
		listener(nil)
	}
}
