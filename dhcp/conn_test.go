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
	"net"
	"os"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
)

func TestCaptureFilter(t *testing.T) {
	vm, err := bpf.NewVM(captureFilter)
	require.NoError(t, err)

	discover := clientFrame(t, net.IPv4zero.To4(), ClientPort, ServerPort,
		layers.NewDHCPOption(OptMessageType, []byte{1}))
	n, err := vm.Run(discover)
	require.NoError(t, err)
	assert.Positive(t, n, "client to server must pass")

	fromServer := clientFrame(t, net.IPv4(192, 168, 1, 1).To4(), ServerPort, ClientPort,
		layers.NewDHCPOption(OptMessageType, []byte{2}))
	n, err = vm.Run(fromServer)
	require.NoError(t, err)
	assert.Positive(t, n, "server to client must pass")

	other := clientFrame(t, net.IPv4zero.To4(), 40000, 53)
	n, err = vm.Run(other)
	require.NoError(t, err)
	assert.Zero(t, n, "DNS traffic must be dropped")

	fragment := append([]byte(nil), discover...)
	fragment[14+6] |= 0x01 // nonzero fragment offset
	n, err = vm.Run(fragment)
	require.NoError(t, err)
	assert.Zero(t, n, "fragments must be dropped")

	arp := append([]byte(nil), discover...)
	arp[12], arp[13] = 0x08, 0x06
	n, err = vm.Run(arp)
	require.NoError(t, err)
	assert.Zero(t, n, "non-IPv4 must be dropped")
}

func TestCaptureFilterAssembles(t *testing.T) {
	_, err := bpf.Assemble(captureFilter)
	require.NoError(t, err)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(os.ErrDeadlineExceeded))
	assert.False(t, IsTimeout(os.ErrClosed))
	assert.False(t, IsTimeout(nil))
}
