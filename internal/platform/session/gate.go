// Package session implements the shared-key login gate and the in-memory
// sessions that carry the acting user's name between requests.
package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthRejected is returned for an unrecognized access key. It carries
	// no hint about which keys exist.
	ErrAuthRejected = errors.New("clave no reconocida")

	// ErrNameRequired is returned when the key is valid but requires the
	// user to type a display name and none was given.
	ErrNameRequired = fmt.Errorf("%w: ingresa tu nombre", ErrAuthRejected)
)

// Gate is the static table of access keys. A key maps either to a fixed
// display name or, when the mapped name is empty, to "ask the user".
type Gate struct {
	keys map[string]string
}

// NewGate copies keys into a new gate.
func NewGate(keys map[string]string) *Gate {
	g := &Gate{keys: make(map[string]string, len(keys))}
	for k, v := range keys {
		g.keys[k] = strings.TrimSpace(v)
	}
	return g
}

// Resolve validates key and returns the display name for the session.
// The typed name is ignored for keys that carry a fixed name.
func (g *Gate) Resolve(key, name string) (string, error) {
	fixed, ok := g.keys[key]
	if !ok || key == "" {
		return "", ErrAuthRejected
	}
	if fixed != "" {
		return fixed, nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	return name, nil
}

// NeedsName reports whether key is known and requires a typed name.
func (g *Gate) NeedsName(key string) bool {
	fixed, ok := g.keys[key]
	return ok && fixed == ""
}

// ParseKeys parses "key=Name,key2=" pairs. An empty name (or a bare key)
// means the user is asked for a name at login.
func ParseKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, name, _ := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("access key entry %q has no key", part)
		}
		if _, dup := keys[key]; dup {
			return nil, fmt.Errorf("access key %q listed twice", key)
		}
		keys[key] = strings.TrimSpace(name)
	}
	return keys, nil
}
