// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"strconv"

	"github.com/stefanop/openfire/form"
)

// Field vars used by the node configuration form (FORM_TYPE
// pubsub#node_config).
const (
	fieldAccessModel      = "pubsub#access_model"
	fieldPublishModel     = "pubsub#publish_model"
	fieldPersistItems     = "pubsub#persist_items"
	fieldDeliverPayloads  = "pubsub#deliver_payloads"
	fieldItemRequired     = "pubsub#item_required"
	fieldMaxItems         = "pubsub#max_items"
	fieldSubscribe        = "pubsub#subscribe"
	fieldMultiSubs        = "pubsub#multi-subscribe"
	fieldCollection       = "pubsub#collection"
	fieldChildAssocPolicy = "pubsub#children_association_policy"
	fieldChildAssocWL     = "pubsub#children_association_whitelist"
	fieldMaxChildren      = "pubsub#children_max"
	fieldRosterGroups     = "pubsub#roster_groups_allowed"
)

// Field vars used by the subscription options form (FORM_TYPE
// pubsub#subscribe_options).
const (
	fieldDeliver      = "pubsub#deliver"
	fieldDigest       = "pubsub#digest"
	fieldIncludeBody  = "pubsub#include_body"
	fieldShowValues   = "pubsub#show-values"
	fieldKeyword      = "pubsub#keyword"
	fieldSubType      = "pubsub#subscription_type"
	fieldSubDepth     = "pubsub#subscription_depth"
)

// Field vars used by the subscribe-authorization form (FORM_TYPE
// pubsub#subscribe_authorization).
const (
	fieldAuthNode  = "pubsub#node"
	fieldAuthSubID = "pubsub#subid"
	fieldAuthAllow = "pubsub#allow"
)

// nodeConfig holds a node's mutable configuration. It is embedded in Node
// and converted to/from form.Data at the protocol boundary.
type nodeConfig struct {
	accessModel      AccessModel
	publisherModel   PublisherModel
	persistItems     bool
	payloadDelivered bool
	itemRequired     bool
	maxItems         int
	subscribeEnabled bool
	multiSubs        bool
	rosterGroups     []string

	// Collection-only.
	childAssocPolicy ChildAssocPolicy
	childAssocWL     []string
	maxChildren      int
}

func defaultLeafConfig() nodeConfig {
	return nodeConfig{
		accessModel:      AccessOpen,
		publisherModel:   PublishersPublisher,
		persistItems:     true,
		payloadDelivered: true,
		itemRequired:     true,
		subscribeEnabled: true,
		maxItems:         50,
	}
}

func defaultCollectionConfig() nodeConfig {
	return nodeConfig{
		accessModel:      AccessOpen,
		publisherModel:   PublishersPublisher,
		subscribeEnabled: true,
		childAssocPolicy: AssocAll,
		maxChildren:      -1,
	}
}

// toForm renders the configuration as a submittable data form.
func (c nodeConfig) toForm(kind Kind) *form.Data {
	d := form.New(form.TypeForm, "http://jabber.org/protocol/pubsub#node_config")
	d.Set(form.Field{Var: fieldAccessModel, Type: form.ListSingle, Values: []string{string(c.accessModel)}})
	d.Set(form.Field{Var: fieldPublishModel, Type: form.ListSingle, Values: []string{string(c.publisherModel)}})
	d.Set(form.Field{Var: fieldSubscribe, Type: form.Boolean, Values: []string{boolStr(c.subscribeEnabled)}})
	d.Set(form.Field{Var: fieldMultiSubs, Type: form.Boolean, Values: []string{boolStr(c.multiSubs)}})
	d.Set(form.Field{Var: fieldRosterGroups, Type: form.ListMulti, Values: c.rosterGroups})
	if kind == Collection {
		d.Set(form.Field{Var: fieldChildAssocPolicy, Type: form.ListSingle, Values: []string{string(c.childAssocPolicy)}})
		d.Set(form.Field{Var: fieldChildAssocWL, Type: form.JIDMulti, Values: c.childAssocWL})
		d.Set(form.Field{Var: fieldMaxChildren, Type: form.TextSingle, Values: []string{strconv.Itoa(c.maxChildren)}})
		return d
	}
	d.Set(form.Field{Var: fieldPersistItems, Type: form.Boolean, Values: []string{boolStr(c.persistItems)}})
	d.Set(form.Field{Var: fieldDeliverPayloads, Type: form.Boolean, Values: []string{boolStr(c.payloadDelivered)}})
	d.Set(form.Field{Var: fieldItemRequired, Type: form.Boolean, Values: []string{boolStr(c.itemRequired)}})
	d.Set(form.Field{Var: fieldMaxItems, Type: form.TextSingle, Values: []string{strconv.Itoa(c.maxItems)}})
	return d
}

// applyForm overlays recognized fields from d onto c, leaving unrecognized
// or absent fields untouched.
func (c *nodeConfig) applyForm(d *form.Data, kind Kind) {
	if f, ok := d.Field(fieldAccessModel); ok && f.Value() != "" {
		c.accessModel = AccessModel(f.Value())
	}
	if f, ok := d.Field(fieldPublishModel); ok && f.Value() != "" {
		c.publisherModel = PublisherModel(f.Value())
	}
	if f, ok := d.Field(fieldSubscribe); ok {
		if v, ok := f.Bool(); ok {
			c.subscribeEnabled = v
		}
	}
	if f, ok := d.Field(fieldMultiSubs); ok {
		if v, ok := f.Bool(); ok {
			c.multiSubs = v
		}
	}
	if f, ok := d.Field(fieldRosterGroups); ok {
		c.rosterGroups = f.Values
	}
	if kind == Collection {
		if f, ok := d.Field(fieldChildAssocPolicy); ok && f.Value() != "" {
			c.childAssocPolicy = ChildAssocPolicy(f.Value())
		}
		if f, ok := d.Field(fieldChildAssocWL); ok {
			c.childAssocWL = f.Values
		}
		if f, ok := d.Field(fieldMaxChildren); ok {
			if n, err := strconv.Atoi(f.Value()); err == nil {
				c.maxChildren = n
			}
		}
		return
	}
	if f, ok := d.Field(fieldPersistItems); ok {
		if v, ok := f.Bool(); ok {
			c.persistItems = v
		}
	}
	if f, ok := d.Field(fieldDeliverPayloads); ok {
		if v, ok := f.Bool(); ok {
			c.payloadDelivered = v
		}
	}
	if f, ok := d.Field(fieldItemRequired); ok {
		if v, ok := f.Bool(); ok {
			c.itemRequired = v
		}
	}
	if f, ok := d.Field(fieldMaxItems); ok {
		if n, err := strconv.Atoi(f.Value()); err == nil {
			c.maxItems = n
		}
	}
}

// expandShortForm synthesizes a full node_config submission from the
// short-form "access" attribute and optional roster group list, per §4.3b/c.
func expandShortForm(access string, groups []string) *form.Data {
	d := form.New(form.TypeSubmit, "http://jabber.org/protocol/pubsub#node_config")
	d.Set(form.Field{Var: fieldAccessModel, Type: form.ListSingle, Values: []string{access}})
	if len(groups) > 0 {
		d.Set(form.Field{Var: fieldRosterGroups, Type: form.ListMulti, Values: groups})
	}
	return d
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// subOptions holds a subscription's configuration.
type subOptions struct {
	deliver        bool
	digest         bool
	includeBody    bool
	shows          []string
	keyword        string
	subType        SubType
	subDepth       string
}

func defaultSubOptions() subOptions {
	return subOptions{deliver: true, subType: SubTypeItems}
}

func (o subOptions) toForm() *form.Data {
	d := form.New(form.TypeForm, "http://jabber.org/protocol/pubsub#subscribe_options")
	d.Set(form.Field{Var: fieldDeliver, Type: form.Boolean, Values: []string{boolStr(o.deliver)}})
	d.Set(form.Field{Var: fieldDigest, Type: form.Boolean, Values: []string{boolStr(o.digest)}})
	d.Set(form.Field{Var: fieldIncludeBody, Type: form.Boolean, Values: []string{boolStr(o.includeBody)}})
	d.Set(form.Field{Var: fieldShowValues, Type: form.ListMulti, Values: o.shows})
	d.Set(form.Field{Var: fieldKeyword, Type: form.TextSingle, Values: []string{o.keyword}})
	d.Set(form.Field{Var: fieldSubType, Type: form.ListSingle, Values: []string{string(o.subType)}})
	if o.subDepth != "" {
		d.Set(form.Field{Var: fieldSubDepth, Type: form.TextSingle, Values: []string{o.subDepth}})
	}
	return d
}

func (o *subOptions) applyForm(d *form.Data) {
	if f, ok := d.Field(fieldDeliver); ok {
		if v, ok := f.Bool(); ok {
			o.deliver = v
		}
	}
	if f, ok := d.Field(fieldDigest); ok {
		if v, ok := f.Bool(); ok {
			o.digest = v
		}
	}
	if f, ok := d.Field(fieldIncludeBody); ok {
		if v, ok := f.Bool(); ok {
			o.includeBody = v
		}
	}
	if f, ok := d.Field(fieldShowValues); ok {
		o.shows = f.Values
	}
	if f, ok := d.Field(fieldKeyword); ok {
		o.keyword = f.Value()
	}
	if f, ok := d.Field(fieldSubType); ok && f.Value() != "" {
		o.subType = SubType(f.Value())
	}
	if f, ok := d.Field(fieldSubDepth); ok {
		o.subDepth = f.Value()
	}
}
