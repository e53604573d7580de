// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/jid"
	"github.com/stefanop/openfire/stanza"
)

// Router delivers a stanza built by the engine to the rest of the server.
// Route is best-effort and must not block; failures surface to the intended
// recipient as an inbound error stanza rather than as a return value here.
type Router interface {
	Route(stanza xml.TokenReader)
}

// Users answers identity questions the engine cannot decide on its own.
type Users interface {
	// IsRegistered reports whether the bare JID belongs to a registered,
	// locally hosted account. Anonymous or unknown entities are not
	// registered.
	IsRegistered(bare jid.JID) bool
	// IsAdmin reports whether bare is a service administrator, who bypasses
	// affiliation and access-model checks.
	IsAdmin(bare jid.JID) bool
}

// CommandForwarder bridges ad-hoc command stanzas (XEP-0050) addressed to
// the service to an external command manager (C8). The engine does not
// implement ad-hoc commands itself; it only recognizes the namespace and
// hands the stanza off.
type CommandForwarder interface {
	ForwardCommand(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error
}

// Backend is the durable persistence collaborator. Node, affiliation, and
// subscription writes happen synchronously from request handlers (they are
// expected to be cheap, e.g. a local transaction), while published items are
// never written from dispatch: they are only ever enqueued to the Batcher and
// written here from the background flush loop.
type Backend interface {
	LoadNodes() ([]*NodeSnapshot, error)
	SaveNode(n *Node) error
	DeleteNode(n *Node) error

	CreatePublishedItem(item *PublishedItem) error
	RemovePublishedItem(item *PublishedItem) error
}

// NodeSnapshot is the persisted representation of a Node used to rebuild the
// in-memory tree on startup. Fields mirror Node's identity, configuration,
// affiliates, subscriptions, and items.
type NodeSnapshot struct {
	ID                   string
	Kind                 Kind
	ParentID             string
	Creator              jid.JID
	Owners               []jid.JID
	AccessModel          AccessModel
	PublisherModel       PublisherModel
	SubscriptionEnabled  bool
	MultiSubsEnabled     bool
	ItemRequired         bool
	PayloadDelivered     bool
	PersistItems         bool
	MaxItems             int
	ChildAssocPolicy     ChildAssocPolicy
	MaxChildren          int
	Affiliates           []*NodeAffiliate
	Subscriptions        []*NodeSubscription
	Items                []*PublishedItem
}
