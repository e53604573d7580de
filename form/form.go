// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package form implements the subset of XEP-0004 data forms the pubsub
// engine needs: building reply forms (node configuration, default
// configuration, authorization requests) and parsing submitted forms
// (configuration updates, subscription options, authorization answers).
package form

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

// NS is the data forms namespace.
const NS = "jabber:x:data"

// Type is the top level <x type="..."/> attribute.
type Type string

// Form types defined in XEP-0004 §3.
const (
	TypeForm   Type = "form"
	TypeSubmit Type = "submit"
	TypeCancel Type = "cancel"
	TypeResult Type = "result"
)

// FieldType is the type attribute of a <field/> element.
type FieldType string

// Field types defined in XEP-0004 §3.3.
const (
	Boolean    FieldType = "boolean"
	Fixed      FieldType = "fixed"
	Hidden     FieldType = "hidden"
	JIDMulti   FieldType = "jid-multi"
	JIDSingle  FieldType = "jid-single"
	ListMulti  FieldType = "list-multi"
	ListSingle FieldType = "list-single"
	TextMulti  FieldType = "text-multi"
	TextSingle FieldType = "text-single"
)

// Option is a selectable value for a list-single or list-multi field.
type Option struct {
	Label string
	Value string
}

// Field is a single form field, able to represent both a field offered by
// the form issuer (with a Label and, for list types, Options) and a field
// submitted by the form filler (Values only).
type Field struct {
	Var      string
	Type     FieldType
	Label    string
	Required bool
	Values   []string
	Options  []Option
}

// Value returns the field's first value, or "" if it has none.
func (f Field) Value() string {
	if len(f.Values) == 0 {
		return ""
	}
	return f.Values[0]
}

// Bool interprets the field's first value as a XEP-0004 boolean ("true"/"1"
// mean true; anything else, including no value, means false). ok is false
// when the value could not be interpreted as a boolean at all.
func (f Field) Bool() (value, ok bool) {
	switch f.Value() {
	case "true", "1":
		return true, true
	case "false", "0", "":
		return false, true
	default:
		return false, false
	}
}

// TokenReader satisfies xmlstream.Marshaler.
func (f Field) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Local: "field"}}
	if f.Var != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "var"}, Value: f.Var})
	}
	if f.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(f.Type)})
	}
	if f.Label != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "label"}, Value: f.Label})
	}

	var children []xml.TokenReader
	if f.Required {
		children = append(children, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "required"}}))
	}
	for _, v := range f.Values {
		children = append(children, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(v)),
			xml.StartElement{Name: xml.Name{Local: "value"}},
		))
	}
	for _, o := range f.Options {
		value := xmlstream.Wrap(
			xmlstream.Token(xml.CharData(o.Value)),
			xml.StartElement{Name: xml.Name{Local: "value"}},
		)
		attr := []xml.Attr{}
		if o.Label != "" {
			attr = []xml.Attr{{Name: xml.Name{Local: "label"}, Value: o.Label}}
		}
		children = append(children, xmlstream.Wrap(value, xml.StartElement{Name: xml.Name{Local: "option"}, Attr: attr}))
	}

	return xmlstream.Wrap(xmlstream.MultiReader(children...), start)
}

// Data is a XEP-0004 data form, either one offered for the filler to
// complete (Type == TypeForm) or one that has been submitted (Type ==
// TypeSubmit).
type Data struct {
	Type       Type
	Title      string
	Instructs  string
	FormFields []Field
}

// FormType returns the value of the hidden FORM_TYPE field, or "" if the
// form carries none.
func (d *Data) FormType() string {
	f, ok := d.Field("FORM_TYPE")
	if !ok {
		return ""
	}
	return f.Value()
}

// Field returns the field with the given var name.
func (d *Data) Field(v string) (Field, bool) {
	for _, f := range d.FormFields {
		if f.Var == v {
			return f, true
		}
	}
	return Field{}, false
}

// Set replaces (or appends) the field with the given var name.
func (d *Data) Set(f Field) {
	for i := range d.FormFields {
		if d.FormFields[i].Var == f.Var {
			d.FormFields[i] = f
			return
		}
	}
	d.FormFields = append(d.FormFields, f)
}

// New builds an empty form of the given type, conventionally stamped with a
// hidden FORM_TYPE field.
func New(typ Type, formType string) *Data {
	d := &Data{Type: typ}
	if formType != "" {
		d.Set(Field{Var: "FORM_TYPE", Type: Hidden, Values: []string{formType}})
	}
	return d
}

// TokenReader satisfies xmlstream.Marshaler.
func (d *Data) TokenReader() xml.TokenReader {
	start := xml.StartElement{
		Name: xml.Name{Space: NS, Local: "x"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "type"}, Value: string(d.Type)}},
	}
	var children []xml.TokenReader
	if d.Title != "" {
		children = append(children, xmlstream.Wrap(xmlstream.Token(xml.CharData(d.Title)), xml.StartElement{Name: xml.Name{Local: "title"}}))
	}
	if d.Instructs != "" {
		children = append(children, xmlstream.Wrap(xmlstream.Token(xml.CharData(d.Instructs)), xml.StartElement{Name: xml.Name{Local: "instructions"}}))
	}
	for _, f := range d.FormFields {
		children = append(children, f.TokenReader())
	}
	return xmlstream.Wrap(xmlstream.MultiReader(children...), start)
}

// WriteXML satisfies xmlstream.WriterTo.
func (d *Data) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, d.TokenReader())
}

// MarshalXML satisfies xml.Marshaler.
func (d *Data) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := d.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML satisfies xml.Unmarshaler, decoding a submitted or offered
// form into Data.
func (d *Data) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	var decoded struct {
		Type  string `xml:"type,attr"`
		Title string `xml:"title"`
		Field []struct {
			Var      string   `xml:"var,attr"`
			Type     string   `xml:"type,attr"`
			Label    string   `xml:"label,attr"`
			Required *struct{} `xml:"required"`
			Value    []string `xml:"value"`
			Option   []struct {
				Label string `xml:"label,attr"`
				Value string `xml:"value"`
			} `xml:"option"`
		} `xml:"field"`
	}
	if err := dec.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	d.Type = Type(decoded.Type)
	d.Title = decoded.Title
	d.FormFields = nil
	for _, f := range decoded.Field {
		field := Field{
			Var:      f.Var,
			Type:     FieldType(f.Type),
			Label:    f.Label,
			Required: f.Required != nil,
			Values:   f.Value,
		}
		for _, o := range f.Option {
			field.Options = append(field.Options, Option{Label: o.Label, Value: o.Value})
		}
		d.FormFields = append(d.FormFields, field)
	}
	return nil
}
