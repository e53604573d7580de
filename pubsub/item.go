// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"
	"io"
	"strings"
	"time"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/jid"
)

// Payload buffers a single published item's XML payload so it can be
// replayed once per fanned-out subscriber. Unlike a []byte blob, replaying
// through TokenReader keeps the payload expressible as an xmlstream.TokenReader
// without re-parsing.
type Payload struct {
	Start  xml.StartElement
	Tokens []xml.Token
}

// DecodePayload reads exactly one element (start through its matching end)
// from d, buffering its tokens for later replay.
func DecodePayload(d *xml.Decoder, start xml.StartElement) (Payload, error) {
	p := Payload{Start: start}
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return Payload{}, err
		}
		tok = xml.CopyToken(tok)
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				continue
			}
		}
		p.Tokens = append(p.Tokens, tok)
	}
	return p, nil
}

// TokenReader replays the buffered payload as a token stream.
func (p Payload) TokenReader() xml.TokenReader {
	i := 0
	inner := xmlstream.ReaderFunc(func() (xml.Token, error) {
		if i >= len(p.Tokens) {
			return nil, io.EOF
		}
		t := p.Tokens[i]
		i++
		return t, nil
	})
	return xmlstream.Wrap(inner, p.Start)
}

// text concatenates the payload's character data, used for keyword
// filtering.
func (p Payload) text() string {
	var b strings.Builder
	for _, t := range p.Tokens {
		if cd, ok := t.(xml.CharData); ok {
			b.Write(cd)
		}
	}
	return b.String()
}

// PublishedItem is an immutable snapshot held by a Leaf, identified by the
// pair (node, itemID).
type PublishedItem struct {
	NodeID    string
	ItemID    string
	Publisher jid.JID
	Payload   *Payload
	Timestamp time.Time
}

// canDelete reports whether sender may retract this item: its original
// publisher, an owner of the owning node, or a service admin.
func (it *PublishedItem) canDelete(n *Node, sender jid.JID, admin bool) bool {
	if admin {
		return true
	}
	if it.Publisher.Bare().Equal(sender.Bare()) {
		return true
	}
	return n.isOwner(sender)
}
