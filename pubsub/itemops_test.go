// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"testing"

	"github.com/stefanop/openfire/stanza"
)

func TestHandlePublishStoresItemAndNotifies(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	bob := mustJID(t, "bob@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)
	n.createSubscription(bob, bob, SubTypeItems, SubSubscribed)

	frag := `<publish xmlns="http://jabber.org/protocol/pubsub" node="/blog">
		<item id="i1"><entry xmlns="urn:example:entry">hello</entry></item>
	</publish>`
	stream, start := decodeFragment(t, frag)
	if err := svc.handlePublish(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handlePublish: %v", err)
	}

	if _, ok := n.itemByID("i1"); !ok {
		t.Fatal("expected item i1 to be published")
	}
	router := svc.Router.(*fakeRouter)
	if len(router.sent) != 2 {
		t.Fatalf("expected a result reply plus one event notification, got %d", len(router.sent))
	}
}

func TestHandlePublishRejectsNonPublisher(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	eve := mustJID(t, "eve@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	frag := `<publish xmlns="http://jabber.org/protocol/pubsub" node="/blog"><item id="i1"/></publish>`
	stream, start := decodeFragment(t, frag)
	err := svc.handlePublish(stanza.IQ{Type: stanza.SetIQ, From: eve}, stream, &start)
	wantCondition(t, err, errForbidden)
}

// TestHandlePublishTooManyPayloadsIsRejectedRegardlessOfDeliverPayloads
// guards the fix that unconditionally rejects an item carrying more than
// one payload element, rather than only when payloadDelivered() is true.
func TestHandlePublishTooManyPayloadsIsRejectedRegardlessOfDeliverPayloads(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	cfg := defaultLeafConfig()
	cfg.payloadDelivered = false
	n := newNode(svc, "/blog", Leaf, nil, alice, cfg)
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	frag := `<publish xmlns="http://jabber.org/protocol/pubsub" node="/blog">
		<item id="i1">
			<a xmlns="urn:example:a"/>
			<b xmlns="urn:example:b"/>
		</item>
	</publish>`
	stream, start := decodeFragment(t, frag)
	err := svc.handlePublish(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start)
	wantCondition(t, err, errInvalidPayload)
}

func TestHandlePublishRequiresPayloadWhenDeliverPayloadsEnabled(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	frag := `<publish xmlns="http://jabber.org/protocol/pubsub" node="/blog"><item id="i1"/></publish>`
	stream, start := decodeFragment(t, frag)
	err := svc.handlePublish(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start)
	wantCondition(t, err, errPayloadRequired)
}

func TestHandleRetractRemovesItem(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)
	n.publishItem(&PublishedItem{ItemID: "i1", Publisher: alice})

	frag := `<retract xmlns="http://jabber.org/protocol/pubsub" node="/blog"><item id="i1"/></retract>`
	stream, start := decodeFragment(t, frag)
	if err := svc.handleRetract(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handleRetract: %v", err)
	}
	if _, ok := n.itemByID("i1"); ok {
		t.Fatal("expected item i1 to be retracted")
	}
}

func TestHandleRetractRequiresPersistentItems(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	cfg := defaultLeafConfig()
	cfg.persistItems = false
	n := newNode(svc, "/blog", Leaf, nil, alice, cfg)
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	frag := `<retract xmlns="http://jabber.org/protocol/pubsub" node="/blog"><item id="i1"/></retract>`
	stream, start := decodeFragment(t, frag)
	err := svc.handleRetract(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start)
	wantCondition(t, err, errPersistentItems)
}

func TestHandleRetrieveItemsReturnsRecentItems(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)
	n.publishItem(&PublishedItem{ItemID: "i1", Publisher: alice})
	n.publishItem(&PublishedItem{ItemID: "i2", Publisher: alice})

	frag := `<items xmlns="http://jabber.org/protocol/pubsub" node="/blog"/>`
	stream, start := decodeFragment(t, frag)
	if err := svc.handleRetrieveItems(stanza.IQ{Type: stanza.GetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handleRetrieveItems: %v", err)
	}
	router := svc.Router.(*fakeRouter)
	if len(router.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(router.sent))
	}
}

func TestHandleRetrieveItemsChecksAccess(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	eve := mustJID(t, "eve@x")
	cfg := defaultLeafConfig()
	cfg.accessModel = AccessWhitelist
	n := newNode(svc, "/blog", Leaf, nil, alice, cfg)
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	frag := `<items xmlns="http://jabber.org/protocol/pubsub" node="/blog"/>`
	stream, start := decodeFragment(t, frag)
	if err := svc.handleRetrieveItems(stanza.IQ{Type: stanza.GetIQ, From: eve}, stream, &start); err == nil {
		t.Fatal("expected a whitelist node to reject a non-affiliated requester")
	}
}

func TestHandlePurgeClearsItems(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)
	n.publishItem(&PublishedItem{ItemID: "i1", Publisher: alice})

	frag := `<purge xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`
	stream, start := decodeFragment(t, frag)
	if err := svc.handlePurge(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handlePurge: %v", err)
	}
	if len(n.recentItems(0)) != 0 {
		t.Fatal("expected all items to be purged")
	}
}

func TestHandlePurgeRejectsNonOwnerNonAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	bob := mustJID(t, "bob@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	frag := `<purge xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`
	stream, start := decodeFragment(t, frag)
	err := svc.handlePurge(stanza.IQ{Type: stanza.SetIQ, From: bob}, stream, &start)
	wantCondition(t, err, errForbidden)
}
