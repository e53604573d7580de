// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package pubsub implements the server side of XEP-0060 Publish-Subscribe:
// a protocol state machine that accepts IQ, Presence, and Message stanzas
// addressed to a pubsub service, dispatches them against a tree of topic
// nodes, and fans notifications out to subscribers.
//
// The engine is deliberately decoupled from transport. It never reads or
// writes a live XML stream; instead it is handed already-demultiplexed
// stanzas (see Service.ProcessIQ, ProcessPresence, and ProcessMessage) and
// talks back to the rest of the server through three small collaborator
// interfaces: Router (stanza delivery), Backend (durable storage), and
// Users (registration and admin checks). Wiring those interfaces to a real
// XMPP server, XML parser, and database is outside this package's scope.
package pubsub
