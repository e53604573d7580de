// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"reflect"
	"testing"
	"time"

	"github.com/stefanop/openfire/jid"
)

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func newTestLeaf(t *testing.T, creator jid.JID, cfg nodeConfig) *Node {
	t.Helper()
	n := newNode(nil, "/blog", Leaf, nil, creator, cfg)
	n.affiliates[creator.Bare().String()] = &NodeAffiliate{Bare: creator.Bare(), Affiliation: AffiliationOwner}
	return n
}

func TestPublishReplacesSameID(t *testing.T) {
	alice := mustJID(t, "alice@x")
	n := newTestLeaf(t, alice, defaultLeafConfig())

	first := &PublishedItem{ItemID: "i1", Publisher: alice, Timestamp: time.Unix(0, 0)}
	n.publishItem(first)
	second := &PublishedItem{ItemID: "i1", Publisher: alice, Timestamp: time.Unix(1, 0)}
	old := n.publishItem(second)

	if old != first {
		t.Fatalf("expected publishItem to return the replaced item")
	}
	got, ok := n.itemByID("i1")
	if !ok || got != second {
		t.Fatalf("expected item i1 to be the second publish")
	}
	if len(n.recentItems(0)) != 1 {
		t.Fatalf("expected exactly one item on the node, got %d", len(n.recentItems(0)))
	}
}

func TestPublishTrimsToMaxItems(t *testing.T) {
	alice := mustJID(t, "alice@x")
	cfg := defaultLeafConfig()
	cfg.maxItems = 2
	n := newTestLeaf(t, alice, cfg)

	n.publishItem(&PublishedItem{ItemID: "a", Publisher: alice})
	n.publishItem(&PublishedItem{ItemID: "b", Publisher: alice})
	n.publishItem(&PublishedItem{ItemID: "c", Publisher: alice})

	items := n.recentItems(0)
	if len(items) != 2 {
		t.Fatalf("expected 2 items after trim, got %d", len(items))
	}
	if items[0].ItemID != "b" || items[1].ItemID != "c" {
		t.Fatalf("expected [b c], got [%s %s]", items[0].ItemID, items[1].ItemID)
	}
	if _, ok := n.itemByID("a"); ok {
		t.Fatalf("expected item a to have been dropped")
	}
}

func TestRetractRemovesItem(t *testing.T) {
	alice := mustJID(t, "alice@x")
	n := newTestLeaf(t, alice, defaultLeafConfig())
	n.publishItem(&PublishedItem{ItemID: "i1", Publisher: alice})

	it, ok := n.retractItem("i1")
	if !ok || it.ItemID != "i1" {
		t.Fatalf("expected to retract i1")
	}
	if _, ok := n.retractItem("i1"); ok {
		t.Fatalf("expected second retract of i1 to report not found")
	}
}

func TestRecentItemsOrderAndLimit(t *testing.T) {
	alice := mustJID(t, "alice@x")
	n := newTestLeaf(t, alice, defaultLeafConfig())
	for _, id := range []string{"a", "b", "c"} {
		n.publishItem(&PublishedItem{ItemID: id, Publisher: alice})
	}

	last2 := n.recentItems(2)
	if len(last2) != 2 || last2[0].ItemID != "b" || last2[1].ItemID != "c" {
		t.Fatalf("unexpected recentItems(2): %+v", last2)
	}
	all := n.recentItems(0)
	if len(all) != 3 || all[0].ItemID != "a" {
		t.Fatalf("unexpected recentItems(0): %+v", all)
	}
}

func TestItemsByIDsOmitsMissing(t *testing.T) {
	alice := mustJID(t, "alice@x")
	n := newTestLeaf(t, alice, defaultLeafConfig())
	n.publishItem(&PublishedItem{ItemID: "a", Publisher: alice})
	n.publishItem(&PublishedItem{ItemID: "b", Publisher: alice})

	got := n.itemsByIDs([]string{"a", "missing", "b"})
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
}

func TestCanDelete(t *testing.T) {
	alice := mustJID(t, "alice@x")
	bob := mustJID(t, "bob@x")
	n := newTestLeaf(t, alice, defaultLeafConfig())
	it := &PublishedItem{ItemID: "i1", Publisher: alice}
	n.publishItem(it)

	if !it.canDelete(n, alice, false) {
		t.Error("publisher should be able to delete their own item")
	}
	if it.canDelete(n, bob, false) {
		t.Error("unrelated user should not be able to delete the item")
	}
	if !it.canDelete(n, bob, true) {
		t.Error("admin should always be able to delete")
	}
}

func TestApplyConfigFormRejectsZeroOwners(t *testing.T) {
	alice := mustJID(t, "alice@x")
	n := newTestLeaf(t, alice, defaultLeafConfig())

	// Dropping the only owner's affiliation directly and then applying an
	// otherwise-valid form should surface errZeroOwners.
	n.setAffiliation(alice, AffiliationNone)
	if err := n.applyConfigForm(n.configForm()); err != errZeroOwners {
		t.Fatalf("got %v, want errZeroOwners", err)
	}
}

func TestCreateSubscriptionGrantsMemberAffiliation(t *testing.T) {
	alice := mustJID(t, "alice@x")
	bob := mustJID(t, "bob@x/r1")
	n := newTestLeaf(t, alice, defaultLeafConfig())

	sub := n.createSubscription(bob, bob, SubTypeItems, SubSubscribed)
	if sub.State != SubSubscribed {
		t.Fatalf("expected subscribed state, got %s", sub.State)
	}
	if n.affiliationOf(bob) != AffiliationMember {
		t.Fatalf("expected bob to become a member, got %s", n.affiliationOf(bob))
	}

	// Subscribing again must not downgrade an existing owner.
	sub2 := n.createSubscription(alice, alice, SubTypeItems, SubSubscribed)
	if n.affiliationOf(alice) != AffiliationOwner {
		t.Fatalf("expected alice to remain owner, got %s", n.affiliationOf(alice))
	}
	_ = sub2
}

func TestRemoveSubscriptionKeepsNonMemberAffiliation(t *testing.T) {
	alice := mustJID(t, "alice@x")
	n := newTestLeaf(t, alice, defaultLeafConfig())
	n.setAffiliation(alice, AffiliationPublisher)
	sub := n.createSubscription(alice, alice, SubTypeItems, SubSubscribed)

	n.removeSubscription(sub)
	if n.affiliationOf(alice) != AffiliationPublisher {
		t.Fatalf("expected publisher affiliation to survive unsubscribe, got %s", n.affiliationOf(alice))
	}
}

func TestAccessCheckWhitelistAndOutcast(t *testing.T) {
	alice := mustJID(t, "alice@x")
	bob := mustJID(t, "bob@x")
	cfg := defaultLeafConfig()
	cfg.accessModel = AccessWhitelist
	n := newTestLeaf(t, alice, cfg)

	if err := n.accessCheck(bob, false); !reflect.DeepEqual(err, errForbidden) {
		t.Fatalf("expected forbidden for non-whitelisted entity, got %v", err)
	}
	n.setAffiliation(bob, AffiliationOutcast)
	if err := n.accessCheck(bob, false); !reflect.DeepEqual(err, errForbidden) {
		t.Fatalf("expected forbidden for outcast even with admin=false, got %v", err)
	}
	if err := n.accessCheck(bob, true); err != nil {
		t.Fatalf("admin should bypass access checks, got %v", err)
	}
}

func TestCanPublishBySubscriberModel(t *testing.T) {
	alice := mustJID(t, "alice@x")
	bob := mustJID(t, "bob@x")
	cfg := defaultLeafConfig()
	cfg.publisherModel = PublishersSubscriber
	n := newTestLeaf(t, alice, cfg)

	if n.canPublish(bob, false) {
		t.Error("unsubscribed bob should not be able to publish under the subscribers model")
	}
	n.createSubscription(bob, bob, SubTypeItems, SubSubscribed)
	if !n.canPublish(bob, false) {
		t.Error("subscribed bob should be able to publish under the subscribers model")
	}
}
