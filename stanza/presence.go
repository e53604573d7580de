// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/jid"
)

// PresenceType is the type attribute of a presence stanza.
type PresenceType string

// Presence types defined in RFC 6121 §4.7.1.
const (
	AvailablePresence    PresenceType = ""
	UnavailablePresence  PresenceType = "unavailable"
	ProbePresence        PresenceType = "probe"
	SubscribePresence    PresenceType = "subscribe"
	SubscribedPresence   PresenceType = "subscribed"
	UnsubscribePresence  PresenceType = "unsubscribe"
	UnsubscribedPresence PresenceType = "unsubscribed"
	ErrorPresence        PresenceType = "error"
)

// Presence announces availability for communication.
type Presence struct {
	ID   string
	To   jid.JID
	From jid.JID
	Lang string
	Type PresenceType
	// Show is the optional <show/> child ("away", "chat", "dnd", "xa").
	Show string
}

// StartElement returns the XML start element for p.
func (p Presence) StartElement() xml.StartElement {
	attr := make([]xml.Attr, 0, 5)
	if p.ID != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: p.ID})
	}
	if !p.To.IsZero() {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "to"}, Value: p.To.String()})
	}
	if !p.From.IsZero() {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: p.From.String()})
	}
	if p.Lang != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Space: "http://www.w3.org/XML/1998/namespace", Local: "lang"}, Value: p.Lang})
	}
	if p.Type != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(p.Type)})
	}
	return xml.StartElement{Name: xml.Name{Local: "presence"}, Attr: attr}
}

// Wrap wraps payload in the presence stanza.
func (p Presence) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, p.StartElement())
}

// PresenceFromStart populates a Presence from a decoded start element's
// attributes. It does not consume the <show/> child; callers that care about
// Show should read it from the stream themselves.
func PresenceFromStart(start xml.StartElement) (p Presence, err error) {
	for _, a := range start.Attr {
		if a.Name.Space != "" && a.Name.Space != "http://www.w3.org/XML/1998/namespace" {
			continue
		}
		switch a.Name.Local {
		case "id":
			p.ID = a.Value
		case "to":
			p.To, err = jid.Parse(a.Value)
		case "from":
			p.From, err = jid.Parse(a.Value)
		case "lang":
			p.Lang = a.Value
		case "type":
			p.Type = PresenceType(a.Value)
		}
		if err != nil {
			return p, err
		}
	}
	return p, nil
}
