// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/jid"
)

// IQType is the type attribute of an IQ stanza.
type IQType string

// IQ types defined in RFC 6120 §8.2.3.
const (
	GetIQ    IQType = "get"
	SetIQ    IQType = "set"
	ResultIQ IQType = "result"
	ErrorIQ  IQType = "error"
)

// IQ ("Information Query") is a one-to-one request/response stanza. Every IQ
// of type get or set must be answered with exactly one IQ of type result or
// error carrying the same ID.
type IQ struct {
	ID   string
	To   jid.JID
	From jid.JID
	Lang string
	Type IQType
}

// Result wraps payload in a result IQ addressed back to the sender of iq.
func (iq IQ) Result(payload xml.TokenReader) xml.TokenReader {
	reply := iq
	reply.Type = ResultIQ
	reply.To, reply.From = iq.From, iq.To
	return reply.Wrap(payload)
}

// Error wraps a stanza.Error as an error IQ addressed back to the sender.
func (iq IQ) Error(e Error) xml.TokenReader {
	reply := iq
	reply.Type = ErrorIQ
	reply.To, reply.From = iq.From, iq.To
	return reply.Wrap(e.TokenReader())
}

// StartElement returns the XML start element for iq.
func (iq IQ) StartElement() xml.StartElement {
	attr := make([]xml.Attr, 0, 5)
	if iq.ID != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: iq.ID})
	}
	if !iq.To.IsZero() {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "to"}, Value: iq.To.String()})
	}
	if !iq.From.IsZero() {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: iq.From.String()})
	}
	if iq.Lang != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Space: "http://www.w3.org/XML/1998/namespace", Local: "lang"}, Value: iq.Lang})
	}
	attr = append(attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(iq.Type)})
	return xml.StartElement{Name: xml.Name{Local: "iq"}, Attr: attr}
}

// Wrap wraps payload in the iq stanza.
func (iq IQ) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, iq.StartElement())
}

// IQFromStart populates an IQ from a decoded start element's attributes.
func IQFromStart(start xml.StartElement) (iq IQ, err error) {
	for _, a := range start.Attr {
		if a.Name.Space != "" && a.Name.Space != "http://www.w3.org/XML/1998/namespace" {
			continue
		}
		switch a.Name.Local {
		case "id":
			iq.ID = a.Value
		case "to":
			iq.To, err = jid.Parse(a.Value)
		case "from":
			iq.From, err = jid.Parse(a.Value)
		case "lang":
			iq.Lang = a.Value
		case "type":
			iq.Type = IQType(a.Value)
		}
		if err != nil {
			return iq, err
		}
	}
	return iq, nil
}
