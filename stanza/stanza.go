// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza defines the three top level XMPP stanza kinds (IQ, Message,
// and Presence) and the stanza-level error payload used to report failures
// back to a sender.
package stanza

import (
	"github.com/stefanop/openfire/jid"
)

// common holds the fields shared by every top level stanza.
type common struct {
	ID   string
	To   jid.JID
	From jid.JID
	Lang string
}
