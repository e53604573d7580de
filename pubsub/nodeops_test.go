// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"testing"

	"github.com/stefanop/openfire/stanza"
)

func TestHandleCreateInstantNode(t *testing.T) {
	svc, users := newTestService(t, InstantNodes(true))
	alice := mustJID(t, "alice@x")
	users.registered[alice.String()] = true

	stream, start := decodeFragment(t, `<create xmlns="http://jabber.org/protocol/pubsub"/>`)
	if err := svc.handleCreate(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handleCreate: %v", err)
	}
	if len(svc.allNodes()) != 1 {
		t.Fatalf("expected exactly one node to be created, got %d", len(svc.allNodes()))
	}
}

func TestHandleCreateRejectsUnregisteredNonAdmin(t *testing.T) {
	svc, _ := newTestService(t, InstantNodes(true))
	stranger := mustJID(t, "nobody@x")

	stream, start := decodeFragment(t, `<create xmlns="http://jabber.org/protocol/pubsub"/>`)
	err := svc.handleCreate(stanza.IQ{Type: stanza.SetIQ, From: stranger}, stream, &start)
	wantCondition(t, err, errForbidden)
}

func TestHandleCreateWithoutInstantNodesRequiresNodeID(t *testing.T) {
	svc, users := newTestService(t)
	alice := mustJID(t, "alice@x")
	users.registered[alice.String()] = true

	stream, start := decodeFragment(t, `<create xmlns="http://jabber.org/protocol/pubsub"/>`)
	err := svc.handleCreate(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start)
	wantCondition(t, err, errNodeIDRequired)
}

func TestHandleConfigureGetReturnsStoredForm(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	stream, start := decodeFragment(t, `<configure xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`)
	if err := svc.handleConfigure(stanza.IQ{Type: stanza.GetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handleConfigure: %v", err)
	}
	router := svc.Router.(*fakeRouter)
	if len(router.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(router.sent))
	}
}

// TestHandleConfigureAdminWithResourceIsAllowed guards the fix for
// isAdmin being called with a resourced JID instead of its bare form,
// which silently failed admin checks for any admin connected from a
// specific resource.
func TestHandleConfigureAdminWithResourceIsAllowed(t *testing.T) {
	svc, users := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	admin := mustJID(t, "admin@x/laptop")
	users.admins[admin.Bare().String()] = true

	stream, start := decodeFragment(t, `<configure xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`)
	if err := svc.handleConfigure(stanza.IQ{Type: stanza.GetIQ, From: admin}, stream, &start); err != nil {
		t.Fatalf("expected a resourced admin to pass the owner check, got %v", err)
	}
}

func TestHandleConfigureRejectsNonOwnerNonAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	bob := mustJID(t, "bob@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	stream, start := decodeFragment(t, `<configure xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`)
	err := svc.handleConfigure(stanza.IQ{Type: stanza.GetIQ, From: bob}, stream, &start)
	wantCondition(t, err, errForbidden)
}

// TestHandleConfigureSetRosterGroupsRoundTrip exercises the
// pubsub#roster_groups_allowed field through the wire-level set/get
// configure handlers rather than the bare nodeConfig helpers.
func TestHandleConfigureSetRosterGroupsRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	setFrag := `<configure xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog">
		<x xmlns="jabber:x:data" type="submit">
			<field var="FORM_TYPE" type="hidden"><value>http://jabber.org/protocol/pubsub#node_config</value></field>
			<field var="pubsub#access_model"><value>whitelist</value></field>
			<field var="pubsub#roster_groups_allowed"><value>friends</value><value>family</value></field>
		</x>
	</configure>`
	stream, start := decodeFragment(t, setFrag)
	if err := svc.handleConfigure(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handleConfigure (set): %v", err)
	}

	if len(n.cfg.rosterGroups) != 2 {
		t.Fatalf("expected the roster groups to be stored on the node, got %v", n.cfg.rosterGroups)
	}

	getStream, getStart := decodeFragment(t, `<configure xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`)
	if err := svc.handleConfigure(stanza.IQ{Type: stanza.GetIQ, From: alice}, getStream, &getStart); err != nil {
		t.Fatalf("handleConfigure (get): %v", err)
	}
	f, ok := n.configForm().Field(fieldRosterGroups)
	if !ok || len(f.Values) != 2 {
		t.Fatalf("expected get-configure's form to echo back the stored roster groups, got %+v", f)
	}
}

func TestHandleDefaultReturnsLeafDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	stream, start := decodeFragment(t, `<default xmlns="http://jabber.org/protocol/pubsub#owner"/>`)
	if err := svc.handleDefault(stanza.IQ{Type: stanza.GetIQ}, stream, &start); err != nil {
		t.Fatalf("handleDefault: %v", err)
	}
	router := svc.Router.(*fakeRouter)
	if len(router.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(router.sent))
	}
}

func TestHandleDeleteRemovesNode(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	stream, start := decodeFragment(t, `<delete xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`)
	if err := svc.handleDelete(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handleDelete: %v", err)
	}
	if _, ok := svc.lookupNode("/blog"); ok {
		t.Fatal("expected the node to be removed")
	}
}

// TestHandleDeleteReturnsInternalErrorOnBackendFailure guards against the
// handler still replying success when the backend delete fails.
func TestHandleDeleteReturnsInternalErrorOnBackendFailure(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Backend.(*fakeBackend).failDelete = true
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	stream, start := decodeFragment(t, `<delete xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`)
	err := svc.handleDelete(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start)
	wantCondition(t, err, errInternal)
}

func TestHandleDeleteRejectsDeletingRoot(t *testing.T) {
	svc, _ := newTestService(t, CollectionNodes(true), RootNodeID(""))
	stream, start := decodeFragment(t, `<delete xmlns="http://jabber.org/protocol/pubsub#owner" node=""/>`)
	err := svc.handleDelete(stanza.IQ{Type: stanza.SetIQ, From: svc.Addr}, stream, &start)
	wantCondition(t, err, errNotAllowed)
}

func TestHandleEntitiesGetListsAffiliates(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	stream, start := decodeFragment(t, `<entities xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`)
	if err := svc.handleEntities(stanza.IQ{Type: stanza.GetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handleEntities: %v", err)
	}
}

// TestHandleEntitiesAdminWithResourceIsAllowed mirrors
// TestHandleConfigureAdminWithResourceIsAllowed for handleEntities.
func TestHandleEntitiesAdminWithResourceIsAllowed(t *testing.T) {
	svc, users := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	admin := mustJID(t, "admin@x/laptop")
	users.admins[admin.Bare().String()] = true

	stream, start := decodeFragment(t, `<entities xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog"/>`)
	if err := svc.handleEntities(stanza.IQ{Type: stanza.GetIQ, From: admin}, stream, &start); err != nil {
		t.Fatalf("expected a resourced admin to pass the owner check, got %v", err)
	}
}

func TestHandleEntitiesSetChangesAffiliation(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	bob := mustJID(t, "bob@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	frag := `<entities xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog">
		<entity jid="` + bob.String() + `" affiliation="publisher"/>
	</entities>`
	stream, start := decodeFragment(t, frag)
	if err := svc.handleEntities(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start); err != nil {
		t.Fatalf("handleEntities (set): %v", err)
	}
	if n.affiliationOf(bob) != AffiliationPublisher {
		t.Fatalf("expected bob to become a publisher, got %v", n.affiliationOf(bob))
	}
}

func TestHandleEntitiesSetRejectsRemovingLastOwner(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustJID(t, "alice@x")
	n := newNode(svc, "/blog", Leaf, nil, alice, defaultLeafConfig())
	n.affiliates[alice.Bare().String()] = &NodeAffiliate{Bare: alice.Bare(), Affiliation: AffiliationOwner}
	svc.insertNode(n)

	frag := `<entities xmlns="http://jabber.org/protocol/pubsub#owner" node="/blog">
		<entity jid="` + alice.String() + `" affiliation="none"/>
	</entities>`
	stream, start := decodeFragment(t, frag)
	err := svc.handleEntities(stanza.IQ{Type: stanza.SetIQ, From: alice}, stream, &start)
	se, ok := err.(stanza.Error)
	if !ok || se.Condition != stanza.NotAcceptable {
		t.Fatalf("expected a not_acceptable reply rejecting the removal, got %v", err)
	}
	if n.affiliationOf(alice) != AffiliationOwner {
		t.Fatalf("expected alice to remain owner, got %v", n.affiliationOf(alice))
	}
}
