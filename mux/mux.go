// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package mux implements a small multiplexer that dispatches IQ stanzas by
// the type and XML name of their first child element.
//
// The pubsub engine registers one handler per namespace family
// ("pubsub", "pubsub#owner", ad-hoc commands) with a wildcard local name;
// each handler then performs its own action-name dispatch and is
// responsible for replying bad_request to unrecognized actions within its
// own family. A payload namespace with no registered handler at all is left
// unhandled so that the embedding server can route it elsewhere.
package mux

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/stanza"
)

// IQHandler responds to an IQ stanza's payload.
//
// start is the start element of the IQ's first child (the matched payload);
// t is positioned immediately after start and can be used both to decode the
// remainder of the payload and, via its TokenWriter half, for handlers that
// stream a reply directly rather than going through a router.
type IQHandler interface {
	HandleIQ(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error
}

// IQHandlerFunc adapts a function to an IQHandler.
type IQHandlerFunc func(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error

// HandleIQ calls f.
func (f IQHandlerFunc) HandleIQ(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	return f(iq, t, start)
}

type patternKey struct {
	xml.Name
	Type stanza.IQType
}

// IQMux dispatches IQs by IQ type and the XML name of their first child.
// Patterns with an empty Local match any local name within that namespace;
// patterns with an empty Space match any namespace for that local name.
// Exact matches win, followed by namespace-only, then local-only.
type IQMux struct {
	patterns map[patternKey]IQHandler
}

// New allocates an empty IQMux.
func New(opt ...Option) *IQMux {
	m := &IQMux{}
	for _, o := range opt {
		o(m)
	}
	return m
}

// Handler returns the handler registered for the given IQ type and payload
// name. ok is false if no pattern, including wildcards, matches.
func (m *IQMux) Handler(iqType stanza.IQType, name xml.Name) (h IQHandler, ok bool) {
	pattern := patternKey{Name: name, Type: iqType}
	if h = m.patterns[pattern]; h != nil {
		return h, true
	}

	n := name
	n.Local = ""
	pattern.Name = n
	if h = m.patterns[pattern]; h != nil {
		return h, true
	}

	n = name
	n.Space = ""
	pattern.Name = n
	if h = m.patterns[pattern]; h != nil {
		return h, true
	}

	return nil, false
}

// Option configures an IQMux.
type Option func(m *IQMux)

// Handle registers h for IQs of type iqType whose first child matches name.
// It panics if a handler is already registered for that exact pattern.
func Handle(iqType stanza.IQType, name xml.Name, h IQHandler) Option {
	return func(m *IQMux) {
		if h == nil {
			panic("mux: nil handler")
		}
		pattern := patternKey{Name: name, Type: iqType}
		if _, ok := m.patterns[pattern]; ok {
			panic("mux: multiple registrations for {" + pattern.Space + "}" + pattern.Local)
		}
		if m.patterns == nil {
			m.patterns = make(map[patternKey]IQHandler)
		}
		m.patterns[pattern] = h
	}
}

// HandleFunc is like Handle but takes a function.
func HandleFunc(iqType stanza.IQType, name xml.Name, h IQHandlerFunc) Option {
	return Handle(iqType, name, h)
}
