// Package webhook authenticates, filters and normalizes pipeline
// notifications from the hosting service. The HTTP surface lives in
// internal/server.
package webhook

import (
	"slices"
	"sync/atomic"
)

// Settings is the part of the configuration the webhook endpoints read on
// every delivery.
type Settings struct {
	Secret       string
	MainBranches []string
}

// IsMainBranch reports whether ref names one of the main branches exactly.
func (s Settings) IsMainBranch(ref string) bool {
	return ref != "" && slices.Contains(s.MainBranches, ref)
}

// Store holds the current Settings. It is swapped whole when the config file
// changes, so a delivery always sees one consistent secret and branch list.
type Store struct {
	current atomic.Pointer[Settings]
}

// NewStore returns a Store holding s.
func NewStore(s Settings) *Store {
	st := &Store{}
	st.Update(s)
	return st
}

// Load returns the current settings.
func (st *Store) Load() Settings {
	return *st.current.Load()
}

// Update replaces the current settings.
func (st *Store) Update(s Settings) {
	s.MainBranches = slices.Clone(s.MainBranches)
	st.current.Store(&s)
}
