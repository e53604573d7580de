// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/form"
	"github.com/stefanop/openfire/internal/ns"
	"github.com/stefanop/openfire/mux"
	"github.com/stefanop/openfire/stanza"
)

// dispatcher wraps a mux.IQMux registered with one namespace-wildcard
// pattern per recognized family (C7). Each family handler performs its own
// action-name switch and is responsible for the bad_request fallback on an
// unrecognized action within its own namespace; an entirely unregistered
// namespace is left to IQMux's ok=false so the caller can route it
// elsewhere.
type dispatcher struct {
	iq *mux.IQMux
}

func newDispatcher(svc *Service) *dispatcher {
	return &dispatcher{
		iq: mux.New(
			mux.HandleFunc(stanza.GetIQ, xml.Name{Space: ns.PubSub}, svc.handlePubSub),
			mux.HandleFunc(stanza.SetIQ, xml.Name{Space: ns.PubSub}, svc.handlePubSub),
			mux.HandleFunc(stanza.GetIQ, xml.Name{Space: ns.PubSubOwner}, svc.handlePubSubOwner),
			mux.HandleFunc(stanza.SetIQ, xml.Name{Space: ns.PubSubOwner}, svc.handlePubSubOwner),
			mux.HandleFunc(stanza.GetIQ, xml.Name{Space: ns.Commands}, svc.handleCommands),
			mux.HandleFunc(stanza.SetIQ, xml.Name{Space: ns.Commands}, svc.handleCommands),
		),
	}
}

// ProcessIQ is the engine's entry point for inbound IQ stanzas (C7). handled
// is false only when the IQ has no child element (start is nil) or its first
// child is in a namespace the engine doesn't recognize at all, so that an
// embedding server can route it
// elsewhere; every recognized namespace always results in exactly one
// routed reply.
func (s *Service) ProcessIQ(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) (handled bool) {
	if iq.Type == stanza.ResultIQ || iq.Type == stanza.ErrorIQ {
		return true
	}
	if start == nil {
		return false
	}

	h, ok := s.mux.iq.Handler(iq.Type, start.Name)
	if !ok {
		return false
	}

	err := h.HandleIQ(iq, t, start)
	if err == nil {
		return true
	}
	if se, ok := err.(stanza.Error); ok {
		s.Router.Route(iq.Error(se))
		return true
	}
	s.log.Printf("internal error handling %s %s: %v", iq.Type, start.Name.Local, err)
	s.Router.Route(iq.Error(errInternal))
	return true
}

// ProcessPresence updates the presence tracker from available/unavailable
// presences; other presence types are left to the server's own subscription
// negotiation.
func (s *Service) ProcessPresence(p stanza.Presence) {
	switch p.Type {
	case stanza.AvailablePresence:
		s.presence.onAvailable(p.From, p.Show)
	case stanza.UnavailablePresence:
		s.presence.onUnavailable(p.From)
	}
}

// ProcessMessage handles error/cancel notifications and subscribe
// authorization answers (C7). t and start are the decoded payload of the
// message, if any; start is nil for a message with no child element.
func (s *Service) ProcessMessage(msg stanza.Message, t xmlstream.TokenReadEncoder, start *xml.StartElement) {
	if msg.Type == stanza.ErrorMessage {
		if msg.Error == nil && start != nil && start.Name.Local == "error" {
			var e stanza.Error
			dec := xml.NewTokenDecoder(t)
			if err := dec.DecodeElement(&e, start); err == nil {
				msg.Error = &e
			}
		}
		// Only a cancel-type error means the recipient no longer exists;
		// other types (e.g. auth) are transient delivery failures and
		// must not unsubscribe anyone.
		if msg.Error != nil && msg.Error.Type == stanza.Cancel {
			s.cancelAllSubscriptions(msg.From.Bare())
		}
		return
	}
	if msg.Type != stanza.NormalMessage || start == nil || start.Name.Local != "x" || start.Name.Space != form.NS {
		return
	}

	var d form.Data
	dec := xml.NewTokenDecoder(t)
	if err := dec.DecodeElement(&d, start); err != nil {
		return
	}
	if d.FormType() != "http://jabber.org/protocol/pubsub#subscribe_authorization" {
		return
	}
	s.handleAuthorizationAnswer(msg, &d)
}

func (s *Service) handlePubSub(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	switch start.Name.Local {
	case "publish":
		return s.handlePublish(iq, t, start)
	case "subscribe":
		return s.handleSubscribe(iq, t, start)
	case "unsubscribe":
		return s.handleUnsubscribe(iq, t, start)
	case "options":
		return s.handleOptions(iq, t, start)
	case "create":
		return s.handleCreate(iq, t, start)
	case "subscriptions":
		return s.handleListSubscriptions(iq, t, start)
	case "affiliations":
		return s.handleListAffiliations(iq, t, start)
	case "items":
		return s.handleRetrieveItems(iq, t, start)
	case "retract":
		return s.handleRetract(iq, t, start)
	}
	return errBadRequest
}

func (s *Service) handlePubSubOwner(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	switch start.Name.Local {
	case "configure":
		return s.handleConfigure(iq, t, start)
	case "default":
		return s.handleDefault(iq, t, start)
	case "delete":
		return s.handleDelete(iq, t, start)
	case "entities":
		return s.handleEntities(iq, t, start)
	case "purge":
		return s.handlePurge(iq, t, start)
	}
	return errBadRequest
}

func (s *Service) handleCommands(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	if s.Commands == nil {
		return errServiceUnavailable
	}
	return s.Commands.ForwardCommand(iq, t, start)
}
