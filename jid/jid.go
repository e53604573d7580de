// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements the XMPP address format described in RFC 7622.
package jid

import (
	"bytes"
	"encoding/xml"
	"errors"
	"net"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// JID represents an XMPP address ("local@domain/resource"). The zero value
// is not a valid JID.
//
// Unlike a pointer-based address, JID is a plain value: two JIDs compare
// equal with == iff they represent the same address, which lets the engine
// use JID (and, more commonly, its Bare form) as a map key without extra
// hashing machinery.
type JID struct {
	locallen  int
	domainlen int
	data      string
}

// Parse constructs a new JID from its string representation.
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	return New(localpart, domainpart, resourcepart)
}

// MustParse is like Parse but panics if s cannot be parsed. It is meant for
// initializing JIDs from constants known to be valid ahead of time.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic("jid: MustParse(" + s + "): " + err.Error())
	}
	return j
}

// New constructs a JID from the given localpart, domainpart, and
// resourcepart, applying the normalization rules from RFC 7622.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) {
		return JID{}, errors.New("jid: address contains invalid UTF-8")
	}

	domainpart, err := idna.ToUnicode(domainpart)
	if err != nil {
		return JID{}, err
	}
	if !utf8.ValidString(domainpart) {
		return JID{}, errors.New("jid: domainpart contains invalid UTF-8")
	}

	var lenlocal int
	data := make([]byte, 0, len(localpart)+len(domainpart)+len(resourcepart))
	if localpart != "" {
		data, err = precis.UsernameCaseMapped.Append(data, []byte(localpart))
		if err != nil {
			return JID{}, err
		}
		lenlocal = len(data)
	}
	data = append(data, domainpart...)
	if resourcepart != "" {
		data, err = precis.OpaqueString.Append(data, []byte(resourcepart))
		if err != nil {
			return JID{}, err
		}
	}

	if err := commonChecks(data[:lenlocal], domainpart, data[lenlocal+len(domainpart):]); err != nil {
		return JID{}, err
	}

	return JID{locallen: lenlocal, domainlen: len(domainpart), data: string(data)}, nil
}

// IsZero reports whether j is the zero JID.
func (j JID) IsZero() bool {
	return j == JID{}
}

// Bare returns a copy of j without a resourcepart.
func (j JID) Bare() JID {
	return JID{locallen: j.locallen, domainlen: j.domainlen, data: j.data[:j.domainlen+j.locallen]}
}

// WithResource returns a copy of j with the resourcepart replaced.
func (j JID) WithResource(resourcepart string) (JID, error) {
	bare := j.Bare()
	if resourcepart == "" {
		return bare, nil
	}
	if !utf8.ValidString(resourcepart) {
		return JID{}, errors.New("jid: resourcepart contains invalid UTF-8")
	}
	data, err := precis.OpaqueString.Append([]byte(bare.data), []byte(resourcepart))
	if err != nil {
		return JID{}, err
	}
	bare.data = string(data)
	return bare, nil
}

// Domain returns a copy of j with no localpart or resourcepart.
func (j JID) Domain() JID {
	return JID{domainlen: j.domainlen, data: j.data[j.locallen : j.domainlen+j.locallen]}
}

// Localpart returns the localpart of j, e.g. "alice".
func (j JID) Localpart() string {
	return j.data[:j.locallen]
}

// Domainpart returns the domainpart of j, e.g. "example.com".
func (j JID) Domainpart() string {
	return j.data[j.locallen : j.locallen+j.domainlen]
}

// Resourcepart returns the resourcepart of j, or "" if j is a bare JID.
func (j JID) Resourcepart() string {
	return j.data[j.locallen+j.domainlen:]
}

// Bareable reports whether j has a resourcepart.
func (j JID) Bareable() bool {
	return j.Resourcepart() != ""
}

// Network satisfies the net.Addr interface.
func (JID) Network() string { return "xmpp" }

// String returns the string representation of j.
func (j JID) String() string {
	if j.IsZero() {
		return ""
	}
	s := j.Domainpart()
	if j.locallen > 0 {
		s = j.Localpart() + "@" + s
	}
	if res := j.Resourcepart(); res != "" {
		s = s + "/" + res
	}
	return s
}

// Equal performs an octet-for-octet comparison with j2.
func (j JID) Equal(j2 JID) bool {
	return j == j2
}

// MarshalXML satisfies xml.Marshaler by encoding j as character data.
func (j JID) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.EncodeToken(xml.CharData(j.String())); err != nil {
		return err
	}
	if err := e.EncodeToken(start.End()); err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML satisfies xml.Unmarshaler.
func (j *JID) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	data := struct {
		CharData string `xml:",chardata"`
	}{}
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}
	if data.CharData == "" {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(data.CharData)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// MarshalXMLAttr satisfies xml.MarshalerAttr.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.IsZero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies xml.UnmarshalerAttr.
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// SplitString splits a JID's string representation into its localpart,
// domainpart, and resourcepart. Parts are not validated.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// RFC 7622 §3.1: match separators before any normalization is applied,
	// since normalization can introduce characters that look like separators.
	if sep := strings.Index(s, "/"); sep != -1 {
		if sep == len(s)-1 {
			return "", "", "", errors.New("jid: resourcepart must not be empty")
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	switch sep := strings.Index(s, "@"); sep {
	case -1:
		domainpart = s
	case 0:
		return "", "", "", errors.New("jid: localpart must not be empty")
	default:
		localpart = s[:sep]
		domainpart = s[sep+1:]
	}

	// Trailing dots on a domainpart are ignored per RFC 1034.
	domainpart = strings.TrimSuffix(domainpart, ".")
	return localpart, domainpart, resourcepart, nil
}

func commonChecks(localpart []byte, domainpart string, resourcepart []byte) error {
	if len(localpart) > 1023 {
		return errors.New("jid: localpart must be smaller than 1024 bytes")
	}
	// RFC 7622 §3.3.1 forbids these characters even though the underlying
	// PRECIS profile permits them.
	if bytes.ContainsAny(localpart, `"&'/:<>@`) {
		return errors.New("jid: localpart contains forbidden characters")
	}
	if len(resourcepart) > 1023 {
		return errors.New("jid: resourcepart must be smaller than 1024 bytes")
	}
	if l := len(domainpart); l < 1 || l > 1023 {
		return errors.New("jid: domainpart must be between 1 and 1023 bytes")
	}
	return checkIP6String(domainpart)
}

func checkIP6String(domainpart string) error {
	if l := len(domainpart); l > 2 && strings.HasPrefix(domainpart, "[") && strings.HasSuffix(domainpart, "]") {
		if ip := net.ParseIP(domainpart[1 : l-1]); ip == nil || ip.To4() != nil {
			return errors.New("jid: domainpart is not a valid IPv6 address")
		}
	}
	return nil
}
