// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"
	"errors"

	"mellium.im/xmlstream"

	"github.com/stefanop/openfire/internal/ns"
	"github.com/stefanop/openfire/stanza"
)

// errZeroOwners signals that a configuration or affiliation change would
// leave a node with no owner; callers translate it to a not_acceptable
// reply.
var errZeroOwners = errors.New("pubsub: node would have no owner")

// condition builds a stanza.Error carrying base as the core XMPP condition
// and, when extra is non-empty, an additional pubsub#errors child named
// extra. attrs are attached to the extra element (e.g. feature="collections").
func condition(base stanza.Condition, extra string, attrs ...xml.Attr) stanza.Error {
	e := stanza.Error{Type: stanza.Cancel, Condition: base}
	if extra != "" {
		e.Extra = []xml.TokenReader{
			xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.PubSubError, Local: extra}, Attr: attrs}),
		}
	}
	return e
}

// Errors returned by the engine, named after the base condition plus any
// domain-specific sub-condition from the pubsub#errors namespace.
var (
	errForbidden           = condition(stanza.Forbidden, "")
	errNotAuthorized       = condition(stanza.NotAuthorized, "")
	errItemNotFound        = condition(stanza.ItemNotFound, "")
	errInternal            = condition(stanza.InternalServerError, "")
	errBadRequest          = condition(stanza.BadRequest, "")
	errNodeIDRequired      = condition(stanza.BadRequest, "nodeid-required")
	errInvalidJID          = condition(stanza.BadRequest, "invalid-jid")
	errInvalidSubID        = condition(stanza.NotAcceptable, "invalid-subid")
	errSubIDRequired       = condition(stanza.BadRequest, "subid-required")
	errJIDRequired         = condition(stanza.BadRequest, "jid-required")
	errNotSubscribed       = condition(stanza.UnexpectedRequest, "not-subscribed")
	errMaxNodesExceeded    = condition(stanza.Conflict, "max-nodes-exceeded")
	errConflict            = condition(stanza.Conflict, "")
	errNotAllowed          = condition(stanza.NotAllowed, "")
	errNotAcceptable       = condition(stanza.NotAcceptable, "")
	errItemRequired        = condition(stanza.BadRequest, "item-required")
	errItemForbidden       = condition(stanza.BadRequest, "item-forbidden")
	errPayloadRequired     = condition(stanza.BadRequest, "payload-required")
	errInvalidPayload      = condition(stanza.BadRequest, "invalid-payload")
	errPersistentItems     = condition(stanza.FeatureNotImplemented, "persistent-items")
	errRetrieveItems       = condition(stanza.FeatureNotImplemented, "retrieve-items")
	errServiceUnavailable  = condition(stanza.ServiceUnavailable, "")
)

// unsupported builds a feature_not_implemented reply naming the missing
// feature, e.g. unsupported("collections") or unsupported("publish").
func unsupported(feature string) stanza.Error {
	return condition(stanza.FeatureNotImplemented, "unsupported", xml.Attr{Name: xml.Name{Local: "feature"}, Value: feature})
}
