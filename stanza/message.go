// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/jid"
)

// MessageType is the type attribute of a message stanza.
type MessageType string

// Message types defined in RFC 6121 §5.2.2.
const (
	NormalMessage  MessageType = "normal"
	ChatMessage    MessageType = "chat"
	GroupChat      MessageType = "groupchat"
	HeadlineMsg    MessageType = "headline"
	ErrorMessage   MessageType = "error"
)

// Message is a push-style, fire-and-forget stanza used to deliver pubsub
// event notifications and authorization requests to subscribers and owners.
type Message struct {
	ID   string
	To   jid.JID
	From jid.JID
	Lang string
	Type MessageType

	// Error is the decoded <error/> child of a message whose Type is
	// ErrorMessage, carrying its Type (RFC 6120 §8.3.2, e.g. cancel vs.
	// auth). Callers that only have the start element's attributes (no
	// decoded children) leave this nil; it is populated by whichever
	// layer decodes the message body, same as Error's own Type field.
	Error *Error
}

// StartElement returns the XML start element for m.
func (m Message) StartElement() xml.StartElement {
	attr := make([]xml.Attr, 0, 5)
	if m.ID != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: m.ID})
	}
	if !m.To.IsZero() {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "to"}, Value: m.To.String()})
	}
	if !m.From.IsZero() {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: m.From.String()})
	}
	if m.Lang != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Space: "http://www.w3.org/XML/1998/namespace", Local: "lang"}, Value: m.Lang})
	}
	if m.Type != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(m.Type)})
	}
	return xml.StartElement{Name: xml.Name{Local: "message"}, Attr: attr}
}

// Wrap wraps payload in the message stanza.
func (m Message) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, m.StartElement())
}

// MessageFromStart populates a Message from a decoded start element's
// attributes.
func MessageFromStart(start xml.StartElement) (m Message, err error) {
	for _, a := range start.Attr {
		if a.Name.Space != "" && a.Name.Space != "http://www.w3.org/XML/1998/namespace" {
			continue
		}
		switch a.Name.Local {
		case "id":
			m.ID = a.Value
		case "to":
			m.To, err = jid.Parse(a.Value)
		case "from":
			m.From, err = jid.Parse(a.Value)
		case "lang":
			m.Lang = a.Value
		case "type":
			m.Type = MessageType(a.Value)
		}
		if err != nil {
			return m, err
		}
	}
	return m, nil
}
