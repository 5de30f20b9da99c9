// Package session provides authenticated-user sessions established after a
// successful OpenID Connect flow. A session holds named entries (at minimum
// the user's claims, optionally the raw id_token) and lives until either its
// absolute maximum age or its inactivity timeout passes, whichever comes
// first. Sessions are persisted through the cache abstraction, so the same
// code serves server-side (memory, Redis, file) and client-held storage.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known entry keys. Claims are always stored; the id_token only when
// the relying party is configured to retain it (for logout hints or
// pass-through).
const (
	KeyClaims  = "claims"
	KeyIDToken = "id_token"
)

var (
	// ErrNoSession is returned by Load when no live session exists for a
	// reference, whether it never existed, expired or was destroyed.
	ErrNoSession = errors.New("no session")
)

// Session is one authenticated user's server-tracked state. A Session is not
// safe for concurrent use; each request works on its own loaded copy.
type Session struct {
	id        string
	subject   string
	createdAt time.Time

	// expiresAt is the absolute deadline: no amount of activity extends a
	// session past it.
	expiresAt time.Time

	entries map[string]json.RawMessage

	// dirty tracks whether the session changed since it was loaded or last
	// saved, so an unchanged session costs no write.
	dirty bool

	// ref is the value the client presents to load this session again: the
	// session id for server-side backends, the sealed blob for client-held
	// storage.
	ref string
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Subject returns the authenticated subject this session belongs to.
func (s *Session) Subject() string { return s.subject }

// CreatedAt returns when the session was established.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// ExpiresAt returns the session's absolute deadline.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Ref returns the reference under which the session was last saved or
// loaded, or "" for a session that was never saved.
func (s *Session) Ref() string { return s.ref }

// Set stores v as the session entry for key, replacing any previous value
// and marking the session dirty.
func (s *Session) Set(key string, v interface{}) error {
	const op = "session.(Session).Set"
	if key == "" {
		return fmt.Errorf("%s: key is empty", op)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: unable to encode entry %q: %w", op, key, err)
	}
	if s.entries == nil {
		s.entries = map[string]json.RawMessage{}
	}
	s.entries[key] = raw
	s.dirty = true
	return nil
}

// Get decodes the session entry for key into v. It returns false when no
// entry exists for the key.
func (s *Session) Get(key string, v interface{}) (bool, error) {
	const op = "session.(Session).Get"
	raw, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("%s: unable to decode entry %q: %w", op, key, err)
	}
	return true, nil
}

// Delete removes the entry for key. Deleting an absent key is not an error
// and does not mark the session dirty.
func (s *Session) Delete(key string) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	s.dirty = true
}

// Keys returns the names of all entries in the session.
func (s *Session) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Claims decodes the session's stored claims. Returns false when the session
// has none.
func (s *Session) Claims() (map[string]interface{}, bool, error) {
	var claims map[string]interface{}
	ok, err := s.Get(KeyClaims, &claims)
	return claims, ok, err
}

// payload is the serialized form of a Session in the cache.
type payload struct {
	ID        string                     `json:"id"`
	Subject   string                     `json:"subject"`
	CreatedAt time.Time                  `json:"created_at"`
	ExpiresAt time.Time                  `json:"expires_at"`
	Entries   map[string]json.RawMessage `json:"entries,omitempty"`
}

func (s *Session) marshal() ([]byte, error) {
	return json.Marshal(payload{
		ID:        s.id,
		Subject:   s.subject,
		CreatedAt: s.createdAt,
		ExpiresAt: s.expiresAt,
		Entries:   s.entries,
	})
}

func unmarshalSession(data []byte) (*Session, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &Session{
		id:        p.ID,
		subject:   p.Subject,
		createdAt: p.CreatedAt,
		expiresAt: p.ExpiresAt,
		entries:   p.Entries,
	}, nil
}
