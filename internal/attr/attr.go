// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr provides small helpers for working with XML attributes and
// generating stanza/node identifiers.
package attr

import (
	"crypto/rand"
	"encoding/xml"
	"fmt"
	"io"
)

// Get returns the value of the first attribute with the given local name, or
// "" if no such attribute exists.
func Get(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// IDLen is the standard length of generated stanza and node identifiers.
const IDLen = 16

// RandomID generates a random identifier of length IDLen.
func RandomID() string {
	return RandomLen(IDLen)
}

// RandomLen is like RandomID but the length is configurable.
func RandomLen(n int) string {
	return randomID(n, rand.Reader)
}

func randomID(n int, r io.Reader) string {
	b := make([]byte, (n/2)+(n&1))
	read, err := r.Read(b)
	if err != nil {
		panic(err)
	}
	if read != len(b) {
		panic("attr: short read from entropy source")
	}
	return fmt.Sprintf("%x", b)[:n]
}
