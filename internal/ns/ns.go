// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants shared by the stanza, form, and
// pubsub packages.
package ns

// Namespaces used throughout the engine.
const (
	XML = "http://www.w3.org/XML/1998/namespace"

	Client = "jabber:client"
	Server = "jabber:server"
	Stanza = "urn:ietf:params:xml:ns:xmpp-stanzas"

	PubSub      = "http://jabber.org/protocol/pubsub"
	PubSubOwner = "http://jabber.org/protocol/pubsub#owner"
	PubSubError = "http://jabber.org/protocol/pubsub#errors"
	PubSubEvent = "http://jabber.org/protocol/pubsub#event"

	Commands = "http://jabber.org/protocol/commands"

	Form = "jabber:x:data"
)
