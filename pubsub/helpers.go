// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/internal/ns"
)

// pubsubResult wraps children in a <pubsub/> element in the base pubsub
// namespace, used for success replies to requests in that family.
func pubsubResult(children ...xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(xmlstream.MultiReader(children...), xml.StartElement{Name: xml.Name{Space: ns.PubSub, Local: "pubsub"}})
}

// pubsubOwnerResult is the pubsub#owner equivalent of pubsubResult.
func pubsubOwnerResult(children ...xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(xmlstream.MultiReader(children...), xml.StartElement{Name: xml.Name{Space: ns.PubSubOwner, Local: "pubsub"}})
}

func elem(local string, attrs []xml.Attr, children ...xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(xmlstream.MultiReader(children...), xml.StartElement{Name: xml.Name{Local: local}, Attr: attrs})
}

func attrStr(local, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: local}, Value: value}
}

// skipElement discards the remainder of the element whose start tag has
// already been consumed, without buffering its tokens.
func skipElement(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}
