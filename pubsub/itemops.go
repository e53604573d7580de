// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"
	"strconv"
	"strings"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/internal/attr"
	"github.com/stefanop/openfire/internal/ns"
	"github.com/stefanop/openfire/stanza"
)

type rawItem struct {
	ID      string
	Payload *Payload
	TooMany bool
}

// decodePublishItems consumes the remainder of a <publish/> element
// (already positioned immediately after its start tag), collecting each
// <item/> child's id attribute and at most one buffered payload. It cannot
// be expressed as a struct tag decode because the payload element name is
// arbitrary.
func decodePublishItems(dec *xml.Decoder) ([]rawItem, error) {
	var items []rawItem
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.EndElement:
			return items, nil
		case xml.StartElement:
			if el.Name.Local != "item" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				continue
			}
			it := rawItem{ID: attr.Get(el.Attr, "id")}
			for {
				itok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				switch ie := itok.(type) {
				case xml.EndElement:
					goto itemDone
				case xml.StartElement:
					p, err := DecodePayload(dec, ie)
					if err != nil {
						return nil, err
					}
					if it.Payload != nil {
						it.TooMany = true
						continue
					}
					it.Payload = &p
				}
			}
		itemDone:
			items = append(items, it)
		}
	}
}

// handlePublish implements §4.5a.
func (s *Service) handlePublish(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	nodeID := attr.Get(start.Attr, "node")
	if nodeID == "" {
		return errNodeIDRequired
	}
	n, ok := s.lookupNode(nodeID)
	if !ok {
		return errItemNotFound
	}
	if n.Kind() != Leaf {
		return unsupported("publish")
	}
	if !n.canPublish(iq.From, s.isAdmin(iq.From.Bare())) {
		return errForbidden
	}

	raw, err := decodePublishItems(xml.NewTokenDecoder(t))
	if err != nil {
		return errBadRequest
	}
	if n.itemRequired() && len(raw) == 0 {
		return errItemRequired
	}
	if !n.itemRequired() && len(raw) > 0 {
		return errItemForbidden
	}
	for _, it := range raw {
		if it.TooMany {
			return errInvalidPayload
		}
	}
	if n.payloadDelivered() {
		for _, it := range raw {
			if it.Payload == nil {
				return errPayloadRequired
			}
		}
	}

	now := s.clock()
	var published []*PublishedItem
	var resultChildren []xml.TokenReader
	for _, it := range raw {
		id := it.ID
		if id == "" {
			id = n.nextItemID()
		}
		pi := &PublishedItem{
			NodeID:    n.id,
			ItemID:    id,
			Publisher: iq.From,
			Payload:   it.Payload,
			Timestamp: now,
		}
		n.publishItem(pi)
		published = append(published, pi)
		resultChildren = append(resultChildren, elem("item", []xml.Attr{attrStr("id", id)}))
	}

	s.Router.Route(iq.Result(pubsubResult(elem("publish", []xml.Attr{attrStr("node", nodeID)}, resultChildren...))))

	s.notifyItems(n, published)

	if n.persistItems() {
		for _, pi := range published {
			s.batcher.QueueItemToAdd(pi)
		}
	}
	return nil
}

type retractRequest struct {
	Node  string `xml:"node,attr"`
	Items []struct {
		ID string `xml:"id,attr"`
	} `xml:"item"`
}

// handleRetract implements §4.5b. A failed check on any item aborts the
// entire request without deleting any item.
func (s *Service) handleRetract(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	var req retractRequest
	dec := xml.NewTokenDecoder(t)
	if err := dec.DecodeElement(&req, start); err != nil {
		return errBadRequest
	}
	n, ok := s.lookupNode(req.Node)
	if !ok {
		return errItemNotFound
	}
	if n.Kind() != Leaf || !n.persistItems() {
		return errPersistentItems
	}

	admin := s.isAdmin(iq.From.Bare())
	var items []*PublishedItem
	for _, ri := range req.Items {
		if ri.ID == "" {
			return errItemRequired
		}
		it, ok := n.itemByID(ri.ID)
		if !ok {
			return errItemNotFound
		}
		if !it.canDelete(n, iq.From, admin) {
			return errForbidden
		}
		items = append(items, it)
	}

	for _, it := range items {
		n.retractItem(it.ItemID)
		s.batcher.QueueItemToRemove(it)
		s.notifyRetract(n, it)
	}

	s.Router.Route(iq.Result(nil))
	return nil
}

type retrieveRequest struct {
	Node     string `xml:"node,attr"`
	SubID    string `xml:"subid,attr"`
	MaxItems string `xml:"max_items,attr"`
	Items    []struct {
		ID string `xml:"id,attr"`
	} `xml:"item"`
}

// handleRetrieveItems implements §4.5c.
func (s *Service) handleRetrieveItems(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	var req retrieveRequest
	dec := xml.NewTokenDecoder(t)
	if err := dec.DecodeElement(&req, start); err != nil {
		return errBadRequest
	}
	n, ok := s.lookupNode(req.Node)
	if !ok {
		return errItemNotFound
	}
	if n.Kind() != Leaf {
		return errRetrieveItems
	}

	admin := s.isAdmin(iq.From.Bare())
	if err := n.accessCheck(iq.From, admin); err != nil {
		return err
	}

	var sub *NodeSubscription
	if n.multiSubsEnabled() {
		if req.SubID == "" {
			return errSubIDRequired
		}
		sub, ok = n.subscriptionBySubID(req.SubID)
		if !ok || sub.State != SubSubscribed {
			return errNotAcceptable
		}
	}

	var items []*PublishedItem
	forcePayload := false
	switch {
	case req.MaxItems != "":
		max, err := strconv.Atoi(req.MaxItems)
		if err != nil {
			return errBadRequest
		}
		items = n.recentItems(max)
	case len(req.Items) > 0:
		var ids []string
		for _, it := range req.Items {
			if it.ID != "" {
				ids = append(ids, it.ID)
			}
		}
		items = n.itemsByIDs(ids)
		forcePayload = true
	default:
		items = n.recentItems(0)
	}

	if sub != nil && sub.Options.keyword != "" {
		filtered := items[:0]
		for _, it := range items {
			if it.Payload != nil && strings.Contains(it.Payload.text(), sub.Options.keyword) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	var children []xml.TokenReader
	for _, it := range items {
		children = append(children, itemElem(it, forcePayload || n.payloadDelivered()))
	}
	s.Router.Route(iq.Result(pubsubResult(elem("items", []xml.Attr{attrStr("node", req.Node)}, children...))))
	return nil
}

func itemElem(it *PublishedItem, withPayload bool) xml.TokenReader {
	var children []xml.TokenReader
	if withPayload && it.Payload != nil {
		children = append(children, it.Payload.TokenReader())
	}
	return elem("item", []xml.Attr{attrStr("id", it.ItemID)}, children...)
}

// handlePurge implements §4.5d.
func (s *Service) handlePurge(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	nodeID := attr.Get(start.Attr, "node")
	if err := skipElement(xml.NewTokenDecoder(t)); err != nil {
		return errBadRequest
	}
	n, ok := s.lookupNode(nodeID)
	if !ok {
		return errItemNotFound
	}
	if !n.isOwner(iq.From) && !s.isAdmin(iq.From.Bare()) {
		return errForbidden
	}
	if n.Kind() != Leaf || !n.persistItems() {
		return errPersistentItems
	}
	purged := n.purgeAllItems()
	s.batcher.CancelQueuedItems(purged)
	s.Router.Route(iq.Result(nil))
	return nil
}

// notifyItems implements the fan-out of §4.5e for a single publish batch,
// preserving document order per subscriber.
func (s *Service) notifyItems(n *Node, items []*PublishedItem) {
	for _, sub := range n.allSubscriptions() {
		if sub.State != SubSubscribed || !sub.Options.deliver {
			continue
		}
		admitted := s.filterForSubscription(n, sub, items)
		if len(admitted) == 0 {
			continue
		}
		s.deliverEvents(n, sub, admitted)
	}
}

func (s *Service) filterForSubscription(n *Node, sub *NodeSubscription, items []*PublishedItem) []*PublishedItem {
	var out []*PublishedItem
	for _, it := range items {
		if sub.Options.keyword != "" {
			if it.Payload == nil || !strings.Contains(it.Payload.text(), sub.Options.keyword) {
				continue
			}
		}
		if n.accessModel() == AccessPresence || len(sub.Options.shows) > 0 {
			if !s.presenceAdmits(sub) {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

// presenceAdmits reports whether sub's subscriber currently has a
// presence-tracked resource whose show value is among the allowed shows (or
// any resource at all when no specific shows are configured).
func (s *Service) presenceAdmits(sub *NodeSubscription) bool {
	shows := s.presence.showsFor(sub.Subscriber.Bare())
	if len(shows) == 0 {
		return false
	}
	if len(sub.Options.shows) == 0 {
		return true
	}
	for _, show := range shows {
		for _, allowed := range sub.Options.shows {
			if show == allowed {
				return true
			}
		}
	}
	return false
}

func (s *Service) deliverEvents(n *Node, sub *NodeSubscription, items []*PublishedItem) {
	if sub.Options.digest {
		var children []xml.TokenReader
		var texts []string
		for _, it := range items {
			children = append(children, itemElem(it, n.payloadDelivered()))
			texts = append(texts, payloadText(it))
		}
		s.Router.Route(s.eventMessage(n, sub, strings.Join(texts, "\n"), children...))
		return
	}
	for _, it := range items {
		s.Router.Route(s.eventMessage(n, sub, payloadText(it), itemElem(it, n.payloadDelivered())))
	}
}

// payloadText returns the item's payload text, or "" if it has none.
func payloadText(it *PublishedItem) string {
	if it.Payload == nil {
		return ""
	}
	return it.Payload.text()
}

func (s *Service) notifyRetract(n *Node, it *PublishedItem) {
	for _, sub := range n.allSubscriptions() {
		if sub.State != SubSubscribed || !sub.Options.deliver {
			continue
		}
		retractElem := elem("retract", []xml.Attr{attrStr("id", it.ItemID)})
		s.Router.Route(s.eventMessage(n, sub, "", retractElem))
	}
}

func (s *Service) eventMessage(n *Node, sub *NodeSubscription, bodyText string, items ...xml.TokenReader) xml.TokenReader {
	itemsElem := elem("items", []xml.Attr{attrStr("node", n.id)}, items...)
	event := xmlstream.Wrap(itemsElem, xml.StartElement{Name: xml.Name{Space: ns.PubSubEvent, Local: "event"}})
	var children []xml.TokenReader
	children = append(children, event)
	if sub.Options.includeBody {
		children = append(children, elem("body", nil, xmlstream.Token(xml.CharData(bodyText))))
	}
	msg := stanza.Message{From: s.Addr, To: sub.Subscriber, Type: stanza.HeadlineMsg}
	return msg.Wrap(xmlstream.MultiReader(children...))
}
