// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"strconv"
	"sync"

	"github.com/stefanop/openfire/form"
	"github.com/stefanop/openfire/internal/attr"
	"github.com/stefanop/openfire/jid"
)

// Node is a PubSub topic, either a Leaf (holds items) or a Collection (holds
// child nodes). owners, affiliates, subscriptions, items, and cfg are all
// guarded by mu; mutating operations hold mu for the duration of the
// mutation and the notification decision, but release it before any
// notification is actually sent.
type Node struct {
	svc     *Service
	id      string
	kind    Kind
	parent  *Node
	creator jid.JID

	mu         sync.Mutex
	cfg        nodeConfig
	affiliates map[string]*NodeAffiliate   // keyed by bare JID string
	subs       map[string]*NodeSubscription // keyed by subID

	// Leaf-only state.
	items   []*PublishedItem
	itemIdx map[string]int // itemID -> index into items
	itemSeq uint64

	// Collection-only state.
	children map[string]*Node // keyed by child nodeID
}

func newNode(svc *Service, id string, kind Kind, parent *Node, creator jid.JID, cfg nodeConfig) *Node {
	n := &Node{
		svc:        svc,
		id:         id,
		kind:       kind,
		parent:     parent,
		creator:    creator,
		cfg:        cfg,
		affiliates: make(map[string]*NodeAffiliate),
		subs:       make(map[string]*NodeSubscription),
	}
	if kind == Collection {
		n.children = make(map[string]*Node)
	} else {
		n.itemIdx = make(map[string]int)
	}
	return n
}

// nodeFromSnapshot rebuilds a Node's local state (configuration, affiliates,
// subscriptions, items) from its persisted snapshot. Parent/child linking
// across the whole forest is completed by the caller once every snapshot in
// a LoadNodes batch has been turned into a Node.
func nodeFromSnapshot(svc *Service, snap *NodeSnapshot) *Node {
	cfg := nodeConfig{
		accessModel:      snap.AccessModel,
		publisherModel:   snap.PublisherModel,
		persistItems:     snap.PersistItems,
		payloadDelivered: snap.PayloadDelivered,
		itemRequired:     snap.ItemRequired,
		maxItems:         snap.MaxItems,
		subscribeEnabled: snap.SubscriptionEnabled,
		multiSubs:        snap.MultiSubsEnabled,
		childAssocPolicy: snap.ChildAssocPolicy,
		maxChildren:      snap.MaxChildren,
	}
	n := newNode(svc, snap.ID, snap.Kind, nil, snap.Creator, cfg)
	for _, a := range snap.Affiliates {
		n.affiliates[a.Bare.Bare().String()] = a
	}
	for _, sub := range snap.Subscriptions {
		n.subs[sub.SubID] = sub
		if a, ok := n.affiliates[sub.Owner.String()]; ok {
			a.Subs = append(a.Subs, sub)
		}
	}
	if n.kind != Collection {
		for _, it := range snap.Items {
			n.items = append(n.items, it)
			n.itemIdx[it.ItemID] = len(n.items) - 1
		}
	}
	return n
}

// ID returns the node's identifier.
func (n *Node) ID() string { return n.id }

// Kind returns whether the node is a Leaf or a Collection.
func (n *Node) Kind() Kind { return n.kind }

// Parent returns the node's parent collection, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// isOwner reports whether bare is one of the node's owners.
func (n *Node) isOwner(bare jid.JID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.affiliates[bare.Bare().String()]
	return ok && a.Affiliation == AffiliationOwner
}

// affiliationOf returns the affiliation of bare, defaulting to
// AffiliationNone if it has none.
func (n *Node) affiliationOf(bare jid.JID) Affiliation {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.affiliates[bare.Bare().String()]
	if !ok {
		return AffiliationNone
	}
	return a.Affiliation
}

func (n *Node) lockedOwnerCount() int {
	count := 0
	for _, a := range n.affiliates {
		if a.Affiliation == AffiliationOwner {
			count++
		}
	}
	return count
}

// setAffiliation assigns aff to bare, creating the affiliate record if
// necessary. Setting AffiliationNone with no subscriptions removes the
// record entirely.
func (n *Node) setAffiliation(bare jid.JID, aff Affiliation) *NodeAffiliate {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lockedSetAffiliation(bare, aff)
}

func (n *Node) lockedSetAffiliation(bare jid.JID, aff Affiliation) *NodeAffiliate {
	key := bare.Bare().String()
	a, ok := n.affiliates[key]
	if !ok {
		a = &NodeAffiliate{Bare: bare.Bare()}
		n.affiliates[key] = a
	}
	a.Affiliation = aff
	if aff == AffiliationNone && len(a.Subs) == 0 {
		delete(n.affiliates, key)
	}
	return a
}

// affiliate returns the affiliate record for bare, if any.
func (n *Node) affiliate(bare jid.JID) (*NodeAffiliate, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.affiliates[bare.Bare().String()]
	return a, ok
}

// allAffiliates returns a snapshot of every affiliate record.
func (n *Node) allAffiliates() []*NodeAffiliate {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*NodeAffiliate, 0, len(n.affiliates))
	for _, a := range n.affiliates {
		out = append(out, a)
	}
	return out
}

// subscriptionBySubID looks up a subscription by its service-generated id.
func (n *Node) subscriptionBySubID(id string) (*NodeSubscription, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.subs[id]
	return s, ok
}

// subscriptionByJID returns the subscription belonging to j's bare JID, used
// when the node disallows multiple subscriptions per entity.
func (n *Node) subscriptionByJID(j jid.JID) (*NodeSubscription, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.affiliates[j.Bare().String()]
	if !ok || len(a.Subs) == 0 {
		return nil, false
	}
	return a.Subs[0], true
}

// subscriptionsForBare returns every subscription held by bare's affiliate
// record.
func (n *Node) subscriptionsForBare(bare jid.JID) []*NodeSubscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.affiliates[bare.Bare().String()]
	if !ok {
		return nil
	}
	out := make([]*NodeSubscription, len(a.Subs))
	copy(out, a.Subs)
	return out
}

// allSubscriptions returns a snapshot of every subscription on the node.
func (n *Node) allSubscriptions() []*NodeSubscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*NodeSubscription, 0, len(n.subs))
	for _, s := range n.subs {
		out = append(out, s)
	}
	return out
}

// createSubscription installs a new subscription for subscriber, owned by
// owner's affiliate record, and returns it.
func (n *Node) createSubscription(owner, subscriber jid.JID, subType SubType, state SubState) *NodeSubscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	a := n.lockedSetAffiliation(owner, n.lockedEnsureAffiliation(owner))
	sub := &NodeSubscription{
		SubID:      attr.RandomID(),
		Owner:      owner.Bare(),
		Subscriber: subscriber,
		State:      state,
		Type:       subType,
		Options:    defaultSubOptions(),
	}
	a.Subs = append(a.Subs, sub)
	n.subs[sub.SubID] = sub
	return sub
}

// lockedEnsureAffiliation returns the affiliation bare should have after
// gaining a subscription: its current affiliation if it has one, else
// AffiliationMember.
func (n *Node) lockedEnsureAffiliation(bare jid.JID) Affiliation {
	if a, ok := n.affiliates[bare.Bare().String()]; ok {
		return a.Affiliation
	}
	return AffiliationMember
}

// removeSubscription deletes sub from the node and, if its owner has no
// remaining subscriptions and no affiliation beyond member, drops the
// affiliate record too.
func (n *Node) removeSubscription(sub *NodeSubscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, sub.SubID)
	a, ok := n.affiliates[sub.Owner.String()]
	if !ok {
		return
	}
	for i, s := range a.Subs {
		if s == sub {
			a.Subs = append(a.Subs[:i], a.Subs[i+1:]...)
			break
		}
	}
	if len(a.Subs) == 0 && a.hasOnlyMemberLeft() && a.Affiliation != AffiliationOwner {
		delete(n.affiliates, sub.Owner.String())
	}
}

// configForm renders the node's current configuration as a data form.
func (n *Node) configForm() *form.Data {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.toForm(n.kind)
}

// applyConfigForm overlays a submitted configuration form, rejecting the
// update if it would leave the node without an owner.
func (n *Node) applyConfigForm(d *form.Data) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	updated := n.cfg
	updated.applyForm(d, n.kind)
	if n.lockedOwnerCount() == 0 {
		return errZeroOwners
	}
	n.cfg = updated
	return nil
}

// canPublish reports whether sender may publish to a Leaf node under its
// publisherModel.
func (n *Node) canPublish(sender jid.JID, admin bool) bool {
	if admin {
		return true
	}
	aff := n.affiliationOf(sender)
	if aff == AffiliationOutcast {
		return false
	}
	n.mu.Lock()
	model := n.cfg.publisherModel
	n.mu.Unlock()
	switch model {
	case PublishersAll:
		return true
	case PublishersPublisher:
		return aff == AffiliationOwner || aff == AffiliationPublisher
	case PublishersSubscriber:
		if aff == AffiliationOwner || aff == AffiliationPublisher {
			return true
		}
		_, subscribed := n.subscriptionByBareSubscribed(sender)
		return subscribed
	}
	return false
}

func (n *Node) subscriptionByBareSubscribed(bare jid.JID) (*NodeSubscription, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.affiliates[bare.Bare().String()]
	if !ok {
		return nil, false
	}
	for _, s := range a.Subs {
		if s.State == SubSubscribed {
			return s, true
		}
	}
	return nil, false
}

// accessModel returns the node's current access model.
func (n *Node) accessModel() AccessModel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.accessModel
}

// subscribeEnabled reports whether the node currently accepts subscriptions.
func (n *Node) subscribeEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.subscribeEnabled
}

// multiSubsEnabled reports whether the node allows more than one
// subscription per entity.
func (n *Node) multiSubsEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.multiSubs
}

// persistItems reports whether published items should be durably stored.
func (n *Node) persistItems() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.persistItems
}

// payloadDelivered and itemRequired report the node's item-shape policy.
func (n *Node) payloadDelivered() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.payloadDelivered
}

func (n *Node) itemRequired() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.itemRequired
}

// accessCheck reports whether sender may subscribe to or retrieve items
// from the node under its access model, per §4.4a and §4.5c.
func (n *Node) accessCheck(sender jid.JID, admin bool) error {
	if admin {
		return nil
	}
	if n.affiliationOf(sender) == AffiliationOutcast {
		return errForbidden
	}
	if n.accessModel() == AccessWhitelist && n.affiliationOf(sender) == AffiliationNone {
		return errForbidden
	}
	return nil
}

// setSubscriptionState transitions sub's state, e.g. from pending to
// subscribed on owner approval.
func (n *Node) setSubscriptionState(sub *NodeSubscription, state SubState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sub.State = state
}

// nextItemID generates the next per-node item identifier.
func (n *Node) nextItemID() string {
	n.mu.Lock()
	n.itemSeq++
	seq := n.itemSeq
	n.mu.Unlock()
	return attr.RandomLen(8) + strconv.FormatUint(seq, 10)
}

// publishItem inserts or replaces item (node, itemID), trimming the item
// history to cfg.maxItems. It returns the item that was replaced, or the
// oldest item dropped by the trim, if any.
func (n *Node) publishItem(it *PublishedItem) *PublishedItem {
	n.mu.Lock()
	defer n.mu.Unlock()
	it.NodeID = n.id
	if i, ok := n.itemIdx[it.ItemID]; ok {
		old := n.items[i]
		n.items[i] = it
		return old
	}
	n.items = append(n.items, it)
	n.itemIdx[it.ItemID] = len(n.items) - 1
	if max := n.cfg.maxItems; max > 0 && len(n.items) > max {
		dropped := n.items[0]
		n.items = n.items[1:]
		for id, idx := range n.itemIdx {
			n.itemIdx[id] = idx - 1
		}
		delete(n.itemIdx, dropped.ItemID)
		return dropped
	}
	return nil
}

// retractItem removes the item with the given id, returning it if found.
func (n *Node) retractItem(itemID string) (*PublishedItem, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	i, ok := n.itemIdx[itemID]
	if !ok {
		return nil, false
	}
	it := n.items[i]
	n.items = append(n.items[:i], n.items[i+1:]...)
	delete(n.itemIdx, itemID)
	for id, idx := range n.itemIdx {
		if idx > i {
			n.itemIdx[id] = idx - 1
		}
	}
	return it, true
}

// purgeAllItems removes every item from the node, returning the removed set.
func (n *Node) purgeAllItems() []*PublishedItem {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.items
	n.items = nil
	n.itemIdx = make(map[string]int)
	return out
}

// itemByID returns the item with the given id, if present.
func (n *Node) itemByID(id string) (*PublishedItem, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	i, ok := n.itemIdx[id]
	if !ok {
		return nil, false
	}
	return n.items[i], true
}

// recentItems returns the max most recently published items, in publish
// order. max <= 0 means "all items".
func (n *Node) recentItems(max int) []*PublishedItem {
	n.mu.Lock()
	defer n.mu.Unlock()
	if max <= 0 || max >= len(n.items) {
		out := make([]*PublishedItem, len(n.items))
		copy(out, n.items)
		return out
	}
	start := len(n.items) - max
	out := make([]*PublishedItem, max)
	copy(out, n.items[start:])
	return out
}

// itemsByIDs returns the items matching ids, in n.items order, omitting any
// id that is not found.
func (n *Node) itemsByIDs(ids []string) []*PublishedItem {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*PublishedItem
	for _, it := range n.items {
		for _, id := range ids {
			if it.ItemID == id {
				out = append(out, it)
				break
			}
		}
	}
	return out
}

// addChild associates child (a leaf or a collection) with this Collection
// node.
func (n *Node) addChild(child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children[child.id] = child
}

// removeChild disassociates child from this collection.
func (n *Node) removeChild(child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.children, child.id)
}

// childCount returns the number of children currently associated.
func (n *Node) childCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.children)
}

// canAssociate reports whether requester may associate a new leaf under
// this collection per childAssocPolicy.
func (n *Node) canAssociate(requester jid.JID) bool {
	n.mu.Lock()
	policy := n.cfg.childAssocPolicy
	wl := n.cfg.childAssocWL
	n.mu.Unlock()
	switch policy {
	case AssocOwners:
		return n.isOwner(requester)
	case AssocWhitelist:
		bare := requester.Bare().String()
		for _, w := range wl {
			if w == bare {
				return true
			}
		}
		return false
	default:
		return true
	}
}

