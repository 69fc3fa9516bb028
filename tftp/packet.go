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

package tftp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

const (
	opRRQ   = 1
	opDATA  = 3
	opACK   = 4
	opERROR = 5
	opOACK  = 6
)

// Error codes from RFC 1350.
const (
	errCodeUndefined    = 0
	errCodeNotFound     = 1
	errCodeAccessDenied = 2
)

var errNotRRQ = errors.New("not a read request")

// An option is one name/value pair from a request. Requests keep
// options as an ordered list, because some firmware checks that the
// OACK lists options in the order it asked for them.
type option struct {
	name  string
	value string
}

type readRequest struct {
	filename string
	mode     string
	options  []option
}

// option returns the value of the named option, if it was requested.
func (r *readRequest) option(name string) (string, bool) {
	for _, o := range r.options {
		if o.name == name {
			return o.value, true
		}
	}
	return "", false
}

func (r *readRequest) has(name string) bool {
	_, ok := r.option(name)
	return ok
}

// parseRRQ decodes a read request:
//
//	| 01 | filename | 0 | mode | 0 | [ optname | 0 | optval | 0 ]* |
//
// Option names are lowercased. A repeated option keeps the position of
// its first occurrence and the value of its last. Decoding stops at an
// empty option name or a name without a value.
func parseRRQ(b []byte) (*readRequest, error) {
	if len(b) < 4 || binary.BigEndian.Uint16(b) != opRRQ {
		return nil, errNotRRQ
	}
	parts := bytes.Split(b[2:], []byte{0})
	if len(parts) < 2 {
		return nil, errors.New("read request has no transfer mode")
	}

	ret := &readRequest{
		filename: string(parts[0]),
		mode:     strings.ToLower(string(parts[1])),
	}
	for i := 2; i+1 < len(parts) && len(parts[i]) > 0; i += 2 {
		name := strings.ToLower(string(parts[i]))
		value := string(parts[i+1])
		dup := false
		for j := range ret.options {
			if ret.options[j].name == name {
				ret.options[j].value = value
				dup = true
				break
			}
		}
		if !dup {
			ret.options = append(ret.options, option{name, value})
		}
	}
	return ret, nil
}

func oackPacket(opts []option) []byte {
	var b bytes.Buffer
	b.Write([]byte{0, opOACK})
	for _, o := range opts {
		b.WriteString(o.name)
		b.WriteByte(0)
		b.WriteString(o.value)
		b.WriteByte(0)
	}
	return b.Bytes()
}

func dataPacket(block uint16, payload []byte) []byte {
	ret := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(ret, opDATA)
	binary.BigEndian.PutUint16(ret[2:], block)
	copy(ret[4:], payload)
	return ret
}

func errorPacket(code uint16, msg string) []byte {
	ret := make([]byte, 4, 5+len(msg))
	binary.BigEndian.PutUint16(ret, opERROR)
	binary.BigEndian.PutUint16(ret[2:], code)
	ret = append(ret, msg...)
	return append(ret, 0)
}

func opcode(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// parseAck returns the block number of an ACK packet.
func parseAck(b []byte) (uint16, bool) {
	if len(b) < 4 || opcode(b) != opACK {
		return 0, false
	}
	return binary.BigEndian.Uint16(b[2:]), true
}
