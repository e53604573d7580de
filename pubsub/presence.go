// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"
	"sync"

	"github.com/stefanop/openfire/jid"
	"github.com/stefanop/openfire/stanza"
)

// probePresence builds a presence probe from from to to, sent on service
// start so the tracker is populated for presence-gated nodes before the
// first notification fan-out.
func probePresence(from, to jid.JID) xml.TokenReader {
	p := stanza.Presence{From: from, To: to, Type: stanza.ProbePresence}
	return p.Wrap(nil)
}

// presenceTracker is a per-bare-JID map of resource to show value (C2). It
// is updated from inbound Presence stanzas and read from the notification
// path to gate presence-dependent delivery.
//
// The outer map is upserted under the tracker-wide mutex, which creates each
// entity's entry (and its per-entity mutex) lazily, so that two resources of
// the same entity going available concurrently don't race on creating the
// inner map; the inner map itself is a plain map guarded by that per-entity
// mutex, which is cheap enough
// given how rarely presence updates contend with each other for one user.
type presenceTracker struct {
	mu      sync.Mutex
	entries map[string]*presenceEntry
}

type presenceEntry struct {
	mu    sync.Mutex
	shows map[string]string // resource -> show value
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{entries: make(map[string]*presenceEntry)}
}

func (t *presenceTracker) entryFor(bare string) *presenceEntry {
	t.mu.Lock()
	e, ok := t.entries[bare]
	if !ok {
		e = &presenceEntry{shows: make(map[string]string)}
		t.entries[bare] = e
	}
	t.mu.Unlock()
	return e
}

// onAvailable records full as available with the given show value. An empty
// show is normalized to "online".
func (t *presenceTracker) onAvailable(full jid.JID, show string) {
	if show == "" {
		show = "online"
	}
	e := t.entryFor(full.Bare().String())
	e.mu.Lock()
	e.shows[full.Resourcepart()] = show
	e.mu.Unlock()
}

// onUnavailable removes full's resource from the tracker, pruning the entry
// entirely once its last resource is gone.
func (t *presenceTracker) onUnavailable(full jid.JID) {
	bare := full.Bare().String()
	e := t.entryFor(bare)
	e.mu.Lock()
	delete(e.shows, full.Resourcepart())
	empty := len(e.shows) == 0
	e.mu.Unlock()

	if empty {
		t.mu.Lock()
		if cur, ok := t.entries[bare]; ok && cur == e {
			delete(t.entries, bare)
		}
		t.mu.Unlock()
	}
}

// showsFor returns the known show values for j. If j is bare, every known
// resource's show is returned; if full, a one-element (or empty) slice.
func (t *presenceTracker) showsFor(j jid.JID) []string {
	t.mu.Lock()
	e, ok := t.entries[j.Bare().String()]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if j.Resourcepart() == "" {
		out := make([]string, 0, len(e.shows))
		for _, show := range e.shows {
			out = append(out, show)
		}
		return out
	}
	if show, ok := e.shows[j.Resourcepart()]; ok {
		return []string{show}
	}
	return nil
}
