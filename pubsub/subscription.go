// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import "github.com/stefanop/openfire/jid"

// NodeSubscription is a subscriber's registration to receive events from a
// node. When the node allows multiple subscriptions per entity, SubID is
// service-generated and is the subscription's external identity; otherwise
// Subscriber's bare JID is unique per node and SubID is still populated
// internally for uniform lookup.
type NodeSubscription struct {
	SubID      string
	Owner      jid.JID // bare JID of the affiliate that owns this subscription
	Subscriber jid.JID // may be a full JID
	State      SubState
	Type       SubType
	Options    subOptions
}

func (s *NodeSubscription) matchesJID(j jid.JID) bool {
	return s.Subscriber.Equal(j) || s.Subscriber.Bare().Equal(j.Bare())
}
