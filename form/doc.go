// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// See form.go for the Data and Field types.
//
// This package deliberately does not attempt to reproduce the full
// client-side form builder API found in XMPP client libraries: the engine
// only ever needs to assemble a handful of fixed field layouts (node
// configuration, subscription options, authorization requests) and to read
// back whatever a filler submits.
package form
