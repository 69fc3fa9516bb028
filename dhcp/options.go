// Copyright 2016 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dhcp

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
)

// Option numbers the proxy reads or writes.
const (
	OptVendorSpecific = 43
	OptServerID       = 54
	OptMessageType    = 53
	OptVendorClass    = 60
	OptTFTPServerName = 66
	OptBootfileName   = 67
	OptUserClass      = 77
	OptClientArch     = 93
	OptIPXEEncap      = 175
)

// Options stores DHCP options, keyed by option number.
//
// An option that was present on the wire with an empty payload is
// stored as a non-nil empty slice, so Has can tell it apart from an
// absent option.
type Options map[int][]byte

// optionsFromLayer converts the decoded option list of a DHCPv4 layer
// into Options. Repeated instances of one option are concatenated, as
// RFC 3396 prescribes for long options.
func optionsFromLayer(opts layers.DHCPOptions) Options {
	ret := make(Options, len(opts))
	for _, opt := range opts {
		n := int(opt.Type)
		if n == int(layers.DHCPOptPad) || n == int(layers.DHCPOptEnd) {
			continue
		}
		if prev, ok := ret[n]; ok {
			ret[n] = append(prev, opt.Data...)
			continue
		}
		v := make([]byte, len(opt.Data))
		copy(v, opt.Data)
		ret[n] = v
	}
	return ret
}

// Has reports whether option n is present, regardless of its length.
func (o Options) Has(n int) bool {
	_, ok := o[n]
	return ok
}

// Byte returns the value of single-byte option n, if the option value
// is indeed a single byte.
func (o Options) Byte(n int) (byte, bool) {
	v := o[n]
	if v == nil || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

// Uint16 returns the value of option n read as a big-endian uint16.
// Values longer than two bytes are accepted and only the first two
// bytes are read; some firmware sends a list of architectures in
// option 93.
func (o Options) Uint16(n int) (uint16, bool) {
	v := o[n]
	if len(v) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v[:2]), true
}

// String returns the value of option n as a string, and false if the
// option is absent.
func (o Options) String(n int) (string, bool) {
	v, ok := o[n]
	if !ok {
		return "", false
	}
	return string(v), true
}
