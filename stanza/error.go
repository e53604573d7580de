// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/internal/ns"
	"github.com/stefanop/openfire/jid"
)

// ErrorType is the type attribute of a stanza error payload.
type ErrorType string

// Error types defined in RFC 6120 §8.3.2.
const (
	Auth     ErrorType = "auth"
	Cancel   ErrorType = "cancel"
	Continue ErrorType = "continue"
	Modify   ErrorType = "modify"
	Wait     ErrorType = "wait"
)

// Condition is one of the base stanza error conditions from RFC 6120 §8.3.3.
type Condition string

// Base error conditions. The engine maps every domain-specific failure onto
// one of these before it reaches the wire.
const (
	BadRequest             Condition = "bad-request"
	Conflict               Condition = "conflict"
	FeatureNotImplemented  Condition = "feature-not-implemented"
	Forbidden              Condition = "forbidden"
	InternalServerError    Condition = "internal-server-error"
	ItemNotFound           Condition = "item-not-found"
	NotAcceptable          Condition = "not-acceptable"
	NotAllowed             Condition = "not-allowed"
	NotAuthorized          Condition = "not-authorized"
	ServiceUnavailable     Condition = "service-unavailable"
	UnexpectedRequest      Condition = "unexpected-request"
)

// Error is a stanza-level <error/> payload. Extra carries zero or more
// application-specific condition elements (e.g. the XEP-0060 conditions
// defined in the pubsub#errors namespace) alongside the base Condition.
type Error struct {
	XMLName   xml.Name
	By        jid.JID
	Type      ErrorType
	Condition Condition
	Text      map[string]string
	Extra     []xml.TokenReader
}

// Error satisfies the error interface.
func (e Error) Error() string {
	return string(e.Condition)
}

// TokenReader satisfies xmlstream.Marshaler.
func (e Error) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Local: "error"}}
	if e.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(e.Type)})
	}
	if a, err := e.By.MarshalXMLAttr(xml.Name{Local: "by"}); err == nil && a.Value != "" {
		start.Attr = append(start.Attr, a)
	}

	children := []xml.TokenReader{
		xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Stanza, Local: string(e.Condition)}}),
	}
	children = append(children, e.Extra...)
	for lang, text := range e.Text {
		if text == "" {
			continue
		}
		var attrs []xml.Attr
		if lang != "" {
			attrs = []xml.Attr{{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: lang}}
		}
		children = append(children, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(text)),
			xml.StartElement{Name: xml.Name{Space: ns.Stanza, Local: "text"}, Attr: attrs},
		))
	}

	return xmlstream.Wrap(xmlstream.MultiReader(children...), start)
}

// WriteXML satisfies xmlstream.WriterTo.
func (e Error) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML satisfies xml.Marshaler.
func (e Error) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	if err != nil {
		return err
	}
	return enc.Flush()
}

// UnmarshalXML satisfies xml.Unmarshaler.
func (e *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition struct {
			XMLName xml.Name
		} `xml:",any"`
		Type ErrorType `xml:"type,attr"`
		By   jid.JID   `xml:"by,attr"`
		Text []struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	e.Type = decoded.Type
	e.By = decoded.By
	if decoded.Condition.XMLName.Space == ns.Stanza {
		e.Condition = Condition(decoded.Condition.XMLName.Local)
	}
	for _, t := range decoded.Text {
		if t.Data == "" {
			continue
		}
		if e.Text == nil {
			e.Text = make(map[string]string)
		}
		e.Text[t.Lang] = t.Data
	}
	return nil
}
