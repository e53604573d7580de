// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/form"
	"github.com/stefanop/openfire/jid"
	"github.com/stefanop/openfire/stanza"
)

type subscribeRequest struct {
	Node    string          `xml:"node,attr"`
	JID     string          `xml:"jid,attr"`
	Options *configureChild `xml:"options"`
}

// handleSubscribe implements §4.4a.
func (s *Service) handleSubscribe(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	var req subscribeRequest
	dec := xml.NewTokenDecoder(t)
	if err := dec.DecodeElement(&req, start); err != nil {
		return errBadRequest
	}

	n, err := s.resolveSubscribeTarget(req.Node)
	if err != nil {
		return err
	}

	subscriber, err := jid.Parse(req.JID)
	if err != nil {
		return errInvalidJID
	}
	admin := s.isAdmin(iq.From.Bare())
	if !subscriber.Bare().Equal(iq.From.Bare()) && !admin {
		return errInvalidJID
	}
	if !s.isRegistered(subscriber.Bare()) && !admin {
		return errForbidden
	}
	if err := n.accessCheck(subscriber, admin); err != nil {
		return err
	}
	if !n.subscribeEnabled() && !admin {
		return errNotAllowed
	}

	subType := SubTypeItems
	if n.Kind() == Collection {
		if req.Options != nil && req.Options.Form != nil {
			if f, ok := req.Options.Form.Field(fieldSubType); ok && f.Value() == string(SubTypeNodes) {
				subType = SubTypeNodes
			}
		}
	}

	if !n.multiSubsEnabled() {
		if existing, ok := n.subscriptionByJID(subscriber); ok {
			s.Router.Route(iq.Result(pubsubResult(subscriptionElem(n, existing))))
			return nil
		}
	} else if n.Kind() == Collection {
		for _, existing := range n.subscriptionsForBare(subscriber.Bare()) {
			if existing.Type == subType {
				return errConflict
			}
		}
	}

	state := SubSubscribed
	if n.accessModel() == AccessAuthorize && !admin {
		state = SubPending
	}
	sub := n.createSubscription(subscriber, subscriber, subType, state)
	if state == SubPending {
		s.sendAuthorizationRequests(n, sub)
	}

	if err := s.Backend.SaveNode(n); err != nil {
		s.log.Printf("subscribe %s: backend save failed: %v", n.id, err)
	}
	s.Router.Route(iq.Result(pubsubResult(subscriptionElem(n, sub))))
	return nil
}

// resolveSubscribeTarget resolves the node attribute of a subscribe,
// unsubscribe, or options request, defaulting to the root collection
// when absent and collection nodes are supported.
func (s *Service) resolveSubscribeTarget(node string) (*Node, error) {
	if node == "" {
		if !s.collectionNodes {
			return nil, errNodeIDRequired
		}
		return s.root, nil
	}
	n, ok := s.lookupNode(node)
	if !ok {
		return nil, errItemNotFound
	}
	return n, nil
}

func subscriptionElem(n *Node, sub *NodeSubscription) xml.TokenReader {
	attrs := []xml.Attr{attrStr("jid", sub.Subscriber.String()), attrStr("subscription", string(sub.State))}
	if n.multiSubsEnabled() {
		attrs = append(attrs, attrStr("subid", sub.SubID))
	}
	if n != nil && n.id != "" {
		attrs = append([]xml.Attr{attrStr("node", n.id)}, attrs...)
	}
	return elem("subscription", attrs)
}

// sendAuthorizationRequests sends a pubsub#subscribe_authorization form to
// every owner of n, per §4.4a/g.
func (s *Service) sendAuthorizationRequests(n *Node, sub *NodeSubscription) {
	d := form.New(form.TypeForm, "http://jabber.org/protocol/pubsub#subscribe_authorization")
	d.Title = "Subscription request"
	d.Set(form.Field{Var: fieldAuthNode, Type: form.Hidden, Values: []string{n.id}})
	d.Set(form.Field{Var: fieldAuthSubID, Type: form.Hidden, Values: []string{sub.SubID}})
	d.Set(form.Field{Var: "pubsub#subscriber_jid", Type: form.JIDSingle, Values: []string{sub.Subscriber.String()}})
	d.Set(form.Field{Var: fieldAuthAllow, Type: form.Boolean, Values: []string{"false"}})

	for _, a := range n.allAffiliates() {
		if a.Affiliation != AffiliationOwner {
			continue
		}
		msg := stanza.Message{From: s.Addr, To: a.Bare, Type: stanza.NormalMessage}
		s.Router.Route(msg.Wrap(d.TokenReader()))
	}
}

// handleAuthorizationAnswer implements §4.4g. The sender's identity is not
// verified to be an owner here, matching observed source behavior; see
// DESIGN.md.
func (s *Service) handleAuthorizationAnswer(msg stanza.Message, d *form.Data) {
	nf, ok := d.Field(fieldAuthNode)
	if !ok {
		return
	}
	n, ok := s.lookupNode(nf.Value())
	if !ok {
		return
	}
	sf, ok := d.Field(fieldAuthSubID)
	if !ok {
		return
	}
	sub, ok := n.subscriptionBySubID(sf.Value())
	if !ok {
		return
	}
	af, ok := d.Field(fieldAuthAllow)
	if !ok {
		return
	}
	allow, ok := af.Bool()
	if !ok {
		s.log.Printf("authorization answer for %s/%s: unrecognized allow value %q", n.id, sub.SubID, af.Value())
		return
	}
	s.approveSubscription(n, sub, allow)
}

// approveSubscription transitions a pending subscription to subscribed, or
// removes it on refusal, per §4.4g.
func (s *Service) approveSubscription(n *Node, sub *NodeSubscription, approved bool) {
	if approved {
		n.setSubscriptionState(sub, SubSubscribed)
		return
	}
	n.removeSubscription(sub)
}

type identifyRequest struct {
	Node  string `xml:"node,attr"`
	JID   string `xml:"jid,attr"`
	SubID string `xml:"subid,attr"`
}

// identifySubscription resolves the subscription a request refers to, per
// the shared rules of §4.4b/c/d: by subID when multi-subs is enabled
// (required), else by jid.
func (s *Service) identifySubscription(n *Node, req identifyRequest) (*NodeSubscription, error) {
	if n.multiSubsEnabled() {
		if req.SubID == "" {
			return nil, errSubIDRequired
		}
		sub, ok := n.subscriptionBySubID(req.SubID)
		if !ok {
			return nil, errInvalidSubID
		}
		return sub, nil
	}
	if req.JID == "" {
		return nil, errJIDRequired
	}
	j, err := jid.Parse(req.JID)
	if err != nil {
		return nil, errInvalidJID
	}
	sub, ok := n.subscriptionByJID(j)
	if !ok {
		return nil, errNotSubscribed
	}
	return sub, nil
}

// handleUnsubscribe implements §4.4b.
func (s *Service) handleUnsubscribe(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	var req identifyRequest
	dec := xml.NewTokenDecoder(t)
	if err := dec.DecodeElement(&req, start); err != nil {
		return errBadRequest
	}
	n, err := s.resolveSubscribeTarget(req.Node)
	if err != nil {
		return err
	}
	sub, err := s.identifySubscription(n, req)
	if err != nil {
		return err
	}
	if !sub.Owner.Equal(iq.From.Bare()) && !sub.Subscriber.Bare().Equal(iq.From.Bare()) && !s.isAdmin(iq.From.Bare()) {
		return errForbidden
	}
	n.removeSubscription(sub)
	if err := s.Backend.SaveNode(n); err != nil {
		s.log.Printf("unsubscribe %s: backend save failed: %v", n.id, err)
	}
	s.Router.Route(iq.Result(nil))
	return nil
}

// handleOptions implements §4.4c/d.
func (s *Service) handleOptions(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	var req struct {
		identifyRequest
		Form *form.Data `xml:"x"`
	}
	dec := xml.NewTokenDecoder(t)
	if err := dec.DecodeElement(&req, start); err != nil {
		return errBadRequest
	}
	n, err := s.resolveSubscribeTarget(req.Node)
	if err != nil {
		return err
	}
	sub, err := s.identifySubscription(n, req.identifyRequest)
	if err != nil {
		return err
	}
	if !sub.Owner.Equal(iq.From.Bare()) && !s.isAdmin(iq.From.Bare()) {
		return errForbidden
	}

	if iq.Type == stanza.GetIQ {
		s.Router.Route(iq.Result(pubsubResult(elem("options",
			[]xml.Attr{attrStr("node", n.id), attrStr("jid", sub.Subscriber.String())},
			sub.Options.toForm().TokenReader()))))
		return nil
	}
	if req.Form == nil {
		return errBadRequest
	}
	sub.Options.applyForm(req.Form)
	s.Router.Route(iq.Result(nil))
	return nil
}

// handleListSubscriptions implements §4.4e.
func (s *Service) handleListSubscriptions(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	if err := skipElement(xml.NewTokenDecoder(t)); err != nil {
		return errBadRequest
	}
	bare := iq.From.Bare()
	var children []xml.TokenReader
	for _, n := range s.allNodes() {
		for _, sub := range n.subscriptionsForBare(bare) {
			children = append(children, subscriptionElem(n, sub))
		}
	}
	if len(children) == 0 {
		return errItemNotFound
	}
	s.Router.Route(iq.Result(pubsubResult(elem("subscriptions", nil, children...))))
	return nil
}

// handleListAffiliations implements §4.4f.
func (s *Service) handleListAffiliations(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	if err := skipElement(xml.NewTokenDecoder(t)); err != nil {
		return errBadRequest
	}
	bare := iq.From.Bare()
	var children []xml.TokenReader
	for _, n := range s.allNodes() {
		a, ok := n.affiliate(bare)
		if !ok || a.Affiliation == AffiliationNone {
			continue
		}
		attrs := []xml.Attr{attrStr("affiliation", string(a.Affiliation))}
		if n.id != "" {
			attrs = append([]xml.Attr{attrStr("node", n.id)}, attrs...)
		}
		children = append(children, elem("affiliation", attrs))
	}
	if len(children) == 0 {
		return errItemNotFound
	}
	s.Router.Route(iq.Result(pubsubResult(elem("affiliations", nil, children...))))
	return nil
}

// cancelAllSubscriptions removes every subscription bare holds across every
// node, triggered by an error/cancel message per §4.1.
func (s *Service) cancelAllSubscriptions(bare jid.JID) {
	for _, n := range s.allNodes() {
		for _, sub := range n.subscriptionsForBare(bare) {
			n.removeSubscription(sub)
		}
	}
}
