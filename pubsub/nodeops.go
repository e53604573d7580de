// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"
	"strings"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/form"
	"github.com/stefanop/openfire/internal/attr"
	"github.com/stefanop/openfire/internal/ns"
	"github.com/stefanop/openfire/jid"
	"github.com/stefanop/openfire/stanza"
)

// configureChild is the optional nested configuration form carried by a
// create request. The real protocol carries it as a sibling of <create/>
// under <pubsub/>; this engine accepts it nested inside <create/> instead,
// since first-child dispatch (§4.1) only ever sees one element per IQ. See
// DESIGN.md for the tradeoff.
type configureChild struct {
	Form *form.Data `xml:"x"`
}

// createRequest is the decoded payload of a pubsub create request.
type createRequest struct {
	Node      string           `xml:"node,attr"`
	Type      string           `xml:"type,attr"`
	Configure *configureChild `xml:"configure"`
}

const maxInstantIDAttempts = 8

// handleCreate implements §4.3a.
func (s *Service) handleCreate(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	requester := iq.From
	if !s.canCreateNode(requester.Bare()) {
		return errForbidden
	}

	var req createRequest
	dec := xml.NewTokenDecoder(t)
	if err := dec.DecodeElement(&req, start); err != nil {
		return errBadRequest
	}

	parent, err := s.resolveParent(req.Configure)
	if err != nil {
		return err
	}

	kind := Leaf
	if req.Type == "collection" {
		if !s.collectionNodes {
			return unsupported("collections")
		}
		kind = Collection
	}

	if kind == Leaf && parent != nil && parent != s.root {
		if !parent.canAssociate(requester) {
			return errForbidden
		}
		if max := parent.maxChildrenLimit(); max >= 0 && parent.childCount() >= max {
			return errMaxNodesExceeded
		}
	}

	instant := req.Node == ""
	if instant && !s.instantNodes {
		return errNodeIDRequired
	}

	var n *Node
	cfg := s.defaultConfigFor(kind)
	for attempt := 0; ; attempt++ {
		id := req.Node
		if instant {
			id = attr.RandomLen(15)
		}
		id = qualifyNodeID(id, parent)

		n = newNode(s, id, kind, parent, requester, cfg)
		if s.insertNode(n) {
			break
		}
		if !instant {
			return errConflict
		}
		if attempt+1 >= maxInstantIDAttempts {
			return errInternal
		}
	}

	n.setAffiliation(requester, AffiliationOwner)
	if req.Configure != nil && req.Configure.Form != nil {
		_ = n.applyConfigForm(req.Configure.Form)
	}
	if parent != nil {
		parent.addChild(n)
	}
	if err := s.Backend.SaveNode(n); err != nil {
		s.log.Printf("create %s: backend save failed: %v", n.id, err)
	}

	s.Router.Route(iq.Result(pubsubResult(elem("create", []xml.Attr{attrStr("node", n.id)}))))
	return nil
}

// resolveParent reads the pubsub#collection field from an optional
// configure form and looks up the named parent, falling back to the root
// collection when none is named and collection nodes are supported.
func (s *Service) resolveParent(configure *configureChild) (*Node, error) {
	if configure != nil && configure.Form != nil {
		if f, ok := configure.Form.Field(fieldCollection); ok && f.Value() != "" {
			parent, ok := s.lookupNode(f.Value())
			if !ok {
				return nil, errItemNotFound
			}
			if parent.Kind() != Collection {
				return nil, errNotAcceptable
			}
			return parent, nil
		}
	}
	if s.collectionNodes {
		return s.root, nil
	}
	return nil, nil
}

func (s *Service) defaultConfigFor(kind Kind) nodeConfig {
	if kind == Collection {
		return s.defaultCollection
	}
	return s.defaultLeaf
}

// qualifyNodeID prefixes id with the parent's nodeID, unless it is already
// so prefixed.
func qualifyNodeID(id string, parent *Node) string {
	if parent == nil {
		return id
	}
	prefix := parent.id + "/"
	if strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}

func (n *Node) maxChildrenLimit() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.maxChildren
}

// handleConfigure implements §4.3b/c (get and set share a namespace+action).
func (s *Service) handleConfigure(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	nodeID := attr.Get(start.Attr, "node")
	n, ok := s.lookupNode(nodeID)
	if !ok {
		if err := skipElement(xml.NewTokenDecoder(t)); err != nil {
			return errBadRequest
		}
		return errItemNotFound
	}
	if !n.isOwner(iq.From) && !s.isAdmin(iq.From.Bare()) {
		_ = skipElement(xml.NewTokenDecoder(t))
		return errForbidden
	}

	if iq.Type == stanza.GetIQ {
		if err := skipElement(xml.NewTokenDecoder(t)); err != nil {
			return errBadRequest
		}
		s.Router.Route(iq.Result(pubsubOwnerResult(elem("configure", []xml.Attr{attrStr("node", nodeID)}, n.configForm().TokenReader()))))
		return nil
	}

	var req struct {
		Form   *form.Data `xml:"x"`
		Access string     `xml:"access,attr"`
		Groups []string   `xml:"group"`
	}
	dec := xml.NewTokenDecoder(t)
	if err := dec.DecodeElement(&req, start); err != nil {
		return errBadRequest
	}
	d := req.Form
	if d == nil && req.Access != "" {
		d = expandShortForm(req.Access, req.Groups)
	}
	if d == nil {
		return errBadRequest
	}
	if err := n.applyConfigForm(d); err != nil {
		return errNotAcceptable
	}
	if err := s.Backend.SaveNode(n); err != nil {
		s.log.Printf("configure %s: backend save failed: %v", n.id, err)
	}
	s.Router.Route(iq.Result(nil))
	return nil
}

// handleDefault implements §4.3d.
func (s *Service) handleDefault(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	if err := skipElement(xml.NewTokenDecoder(t)); err != nil {
		return errBadRequest
	}
	kindAttr := attr.Get(start.Attr, "type")
	kind := Leaf
	if kindAttr == "collection" {
		if !s.collectionNodes {
			return unsupported("collections")
		}
		kind = Collection
	}
	d := s.defaultConfigFor(kind).toForm(kind)
	s.Router.Route(iq.Result(pubsubOwnerResult(elem("default", nil, d.TokenReader()))))
	return nil
}

// handleDelete implements §4.3e.
func (s *Service) handleDelete(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	nodeID := attr.Get(start.Attr, "node")
	if err := skipElement(xml.NewTokenDecoder(t)); err != nil {
		return errBadRequest
	}
	if s.root != nil && nodeID == s.root.id {
		return errNotAllowed
	}
	n, ok := s.lookupNode(nodeID)
	if !ok {
		return errItemNotFound
	}
	if !n.isOwner(iq.From) && !s.isAdmin(iq.From.Bare()) {
		return errForbidden
	}

	s.batcher.CancelQueuedItems(n.purgeAllItems())
	s.notifyNodeDeleted(n)
	if n.parent != nil {
		n.parent.removeChild(n)
	}
	s.removeNode(n)
	if err := s.Backend.DeleteNode(n); err != nil {
		s.log.Printf("delete %s: backend delete failed: %v", n.id, err)
		return errInternal
	}

	s.Router.Route(iq.Result(nil))
	return nil
}

// notifyNodeDeleted sends a subscription-cancellation event to every
// subscriber of n.
func (s *Service) notifyNodeDeleted(n *Node) {
	for _, sub := range n.allSubscriptions() {
		msg := stanza.Message{From: s.Addr, To: sub.Subscriber, Type: stanza.HeadlineMsg}
		deleteElem := elem("delete", []xml.Attr{attrStr("node", n.id)})
		event := xmlstream.Wrap(deleteElem, xml.StartElement{Name: xml.Name{Space: ns.PubSubEvent, Local: "event"}})
		s.Router.Route(msg.Wrap(event))
	}
}

// entitiesEntity is one <entity/> child of a modify-affiliations request.
type entitiesEntity struct {
	JID         string `xml:"jid,attr"`
	Affiliation string `xml:"affiliation,attr"`
	SubID       string `xml:"subid,attr"`
	Subscription string `xml:"subscription,attr"`
}

// handleEntities implements §4.3f/g.
func (s *Service) handleEntities(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	nodeID := attr.Get(start.Attr, "node")
	n, ok := s.lookupNode(nodeID)
	if !ok {
		_ = skipElement(xml.NewTokenDecoder(t))
		return errItemNotFound
	}
	if !n.isOwner(iq.From) && !s.isAdmin(iq.From.Bare()) {
		_ = skipElement(xml.NewTokenDecoder(t))
		return errForbidden
	}

	if iq.Type == stanza.GetIQ {
		if err := skipElement(xml.NewTokenDecoder(t)); err != nil {
			return errBadRequest
		}
		return s.replyEntities(iq, n)
	}

	var req struct {
		Entities []entitiesEntity `xml:"entity"`
	}
	dec := xml.NewTokenDecoder(t)
	if err := dec.DecodeElement(&req, start); err != nil {
		return errBadRequest
	}
	return s.applyEntityModify(iq, n, req.Entities)
}

func (s *Service) replyEntities(iq stanza.IQ, n *Node) error {
	var children []xml.TokenReader
	for _, a := range n.allAffiliates() {
		if len(a.Subs) == 0 {
			children = append(children, entityElem(a.Bare, a.Affiliation, nil))
			continue
		}
		for _, sub := range a.Subs {
			children = append(children, entityElem(a.Bare, a.Affiliation, sub))
		}
	}
	s.Router.Route(iq.Result(pubsubOwnerResult(elem("entities", []xml.Attr{attrStr("node", n.id)}, children...))))
	return nil
}

func entityElem(bare jid.JID, aff Affiliation, sub *NodeSubscription) xml.TokenReader {
	attrs := []xml.Attr{attrStr("jid", bare.String()), attrStr("affiliation", string(aff))}
	if sub != nil {
		attrs = append(attrs, attrStr("subscription", string(sub.State)))
		if sub.SubID != "" {
			attrs = append(attrs, attrStr("subid", sub.SubID))
		}
	}
	return elem("entity", attrs)
}

// applyEntityModify applies each requested entity transition; a change that
// would remove the node's only owner is rejected for that entity alone,
// while other entities' changes still take effect, per §4.3f/g.
func (s *Service) applyEntityModify(iq stanza.IQ, n *Node, entities []entitiesEntity) error {
	var rejected []entitiesEntity
	for _, e := range entities {
		bare, err := jid.Parse(e.JID)
		if err != nil {
			continue
		}
		pre := n.affiliationOf(bare)
		if e.Affiliation != "" {
			newAff := Affiliation(e.Affiliation)
			if newAff != AffiliationOwner && pre == AffiliationOwner && n.wouldRemoveLastOwner(bare) {
				rejected = append(rejected, entitiesEntity{JID: e.JID, Affiliation: string(pre)})
				continue
			}
			n.setAffiliation(bare, newAff)
		}
		if e.SubID != "" && e.Subscription == "none" {
			if sub, ok := n.subscriptionBySubID(e.SubID); ok {
				n.removeSubscription(sub)
			}
		}
	}
	if len(rejected) > 0 {
		var children []xml.TokenReader
		for _, r := range rejected {
			children = append(children, entityElem(jid.MustParse(r.JID), Affiliation(r.Affiliation), nil))
		}
		return stanza.Error{
			Type:      stanza.Cancel,
			Condition: stanza.NotAcceptable,
			Extra:     []xml.TokenReader{elem("entities", []xml.Attr{attrStr("node", n.id)}, children...)},
		}
	}
	s.Router.Route(iq.Result(nil))
	return nil
}

// wouldRemoveLastOwner reports whether bare is currently the node's only
// owner.
func (n *Node) wouldRemoveLastOwner(bare jid.JID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lockedOwnerCount() != 1 {
		return false
	}
	a, ok := n.affiliates[bare.Bare().String()]
	return ok && a.Affiliation == AffiliationOwner
}
