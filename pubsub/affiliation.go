// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import "github.com/stefanop/openfire/jid"

// NodeAffiliate is an entity's long-lived relationship to a node, identified
// by the pair (node, bareJID).
type NodeAffiliate struct {
	Bare        jid.JID
	Affiliation Affiliation
	// Subs holds pointers to this entity's subscriptions to the node; the
	// slice is owned by Node.subs and is only ever mutated while the node's
	// lock is held.
	Subs []*NodeSubscription
}

func (a *NodeAffiliate) hasOnlyMemberLeft() bool {
	return a.Affiliation == AffiliationNone || a.Affiliation == AffiliationMember
}
