// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza defines IQ, Message, Presence, and the stanza-level Error
// payload used by the pubsub engine to talk to the rest of the server.
//
// Unlike a full client library, this package only models the fields the
// engine actually reads or writes; wire-level parsing of arbitrary stanza
// extensions is left to the router that hands stanzas to the engine.
package stanza
