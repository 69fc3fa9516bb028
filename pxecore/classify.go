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

package pxecore

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/insomniacslk/dhcp/iana"

	"github.com/metal-stack/pxeproxy/dhcp"
)

// Boot phases, as they appear in logs and metric labels.
const (
	PhaseIPXE = "iPXE"
	PhaseUEFI = "UEFI PXE"
	PhaseBIOS = "BIOS PXE"
)

// BootFiles names the file handed out in each boot phase.
type BootFiles struct {
	// BIOS is the first stage loader for legacy PXE firmware.
	BIOS string
	// UEFI is the loader for UEFI PXE firmware.
	UEFI string
	// IPXE is the script handed to clients that already run iPXE.
	IPXE string
}

// DefaultBootFiles are the boot files used when none are configured.
var DefaultBootFiles = BootFiles{
	BIOS: "undionly.kpxe",
	UEFI: "ipxe.efi",
	IPXE: "boot.ipxe",
}

// A Classification is what the proxy decided about one client.
type Classification struct {
	Arch     iana.Arch
	IPXE     bool
	BootFile string
	Phase    string
}

var vendorArch = regexp.MustCompile(`Arch:0*([0-9]+)`)

// Classify picks the boot file for a client from the options of its
// Discover or Request. It never fails; unknown clients are treated as
// BIOS PXE.
func Classify(opts dhcp.Options, files BootFiles) Classification {
	c := Classification{
		Arch: clientArch(opts),
		IPXE: isIPXE(opts),
	}
	switch {
	case c.IPXE:
		c.Phase, c.BootFile = PhaseIPXE, files.IPXE
	case isUEFI(c.Arch):
		c.Phase, c.BootFile = PhaseUEFI, files.UEFI
	default:
		c.Phase, c.BootFile = PhaseBIOS, files.BIOS
	}
	return c
}

func isUEFI(a iana.Arch) bool {
	switch a {
	case iana.EFI_IA32, iana.EFI_BC, iana.EFI_X86_64:
		return true
	}
	return false
}

// clientArch reads option 93, falling back to the "Arch:NNNNN" field
// of the PXE vendor class.
func clientArch(opts dhcp.Options) iana.Arch {
	if b, ok := opts.Byte(dhcp.OptClientArch); ok {
		return iana.Arch(b)
	}
	if a, ok := opts.Uint16(dhcp.OptClientArch); ok {
		return iana.Arch(a)
	}
	if vc, ok := opts.String(dhcp.OptVendorClass); ok {
		if m := vendorArch.FindStringSubmatch(vc); m != nil {
			// Out of range values can't name a UEFI arch anyway.
			if a, err := strconv.ParseUint(m[1], 10, 16); err == nil {
				return iana.Arch(a)
			}
		}
	}
	return iana.INTEL_X86PC
}

var ipxeMarker = []byte("ipxe")

// isIPXE reports whether the client is already running iPXE.
//
// The user class (option 77) is either a bare string or an RFC 3004
// list of length-prefixed strings. A substring search over the raw
// value covers both, since a length byte never splits an entry.
func isIPXE(opts dhcp.Options) bool {
	if vc, ok := opts.String(dhcp.OptVendorClass); ok && strings.Contains(strings.ToLower(vc), "ipxe") {
		return true
	}
	if uc, ok := opts[dhcp.OptUserClass]; ok && bytes.Contains(bytes.ToLower(uc), ipxeMarker) {
		return true
	}
	return opts.Has(dhcp.OptIPXEEncap)
}

// isPXEClient reports whether the vendor class identifies PXE
// firmware.
func isPXEClient(opts dhcp.Options) bool {
	vc, ok := opts.String(dhcp.OptVendorClass)
	return ok && strings.HasPrefix(vc, "PXEClient")
}
