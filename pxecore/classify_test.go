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
	"testing"

	"github.com/insomniacslk/dhcp/iana"
	"github.com/stretchr/testify/assert"

	"github.com/metal-stack/pxeproxy/dhcp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		opts dhcp.Options
		want Classification
	}{
		{
			name: "no options",
			opts: dhcp.Options{},
			want: Classification{Arch: iana.INTEL_X86PC, BootFile: "undionly.kpxe", Phase: PhaseBIOS},
		},
		{
			name: "two byte arch",
			opts: dhcp.Options{dhcp.OptClientArch: {0x00, 0x07}},
			want: Classification{Arch: iana.EFI_BC, BootFile: "ipxe.efi", Phase: PhaseUEFI},
		},
		{
			name: "arch list uses first entry",
			opts: dhcp.Options{dhcp.OptClientArch: {0x00, 0x09, 0x00, 0x00}},
			want: Classification{Arch: iana.EFI_X86_64, BootFile: "ipxe.efi", Phase: PhaseUEFI},
		},
		{
			name: "single byte arch",
			opts: dhcp.Options{dhcp.OptClientArch: {6}},
			want: Classification{Arch: iana.EFI_IA32, BootFile: "ipxe.efi", Phase: PhaseUEFI},
		},
		{
			name: "arch from vendor class",
			opts: dhcp.Options{dhcp.OptVendorClass: []byte("PXEClient:Arch:00007:UNDI:003016")},
			want: Classification{Arch: iana.EFI_BC, BootFile: "ipxe.efi", Phase: PhaseUEFI},
		},
		{
			name: "option 93 wins over vendor class",
			opts: dhcp.Options{
				dhcp.OptClientArch:  {0x00, 0x00},
				dhcp.OptVendorClass: []byte("PXEClient:Arch:00009:UNDI:003016"),
			},
			want: Classification{Arch: iana.INTEL_X86PC, BootFile: "undionly.kpxe", Phase: PhaseBIOS},
		},
		{
			name: "non UEFI arch",
			opts: dhcp.Options{dhcp.OptClientArch: {0x00, 0x0b}},
			want: Classification{Arch: iana.Arch(11), BootFile: "undionly.kpxe", Phase: PhaseBIOS},
		},
		{
			name: "empty arch option falls back to vendor class",
			opts: dhcp.Options{
				dhcp.OptClientArch:  {},
				dhcp.OptVendorClass: []byte("PXEClient:Arch:9"),
			},
			want: Classification{Arch: iana.EFI_X86_64, BootFile: "ipxe.efi", Phase: PhaseUEFI},
		},
		{
			name: "huge vendor class arch",
			opts: dhcp.Options{dhcp.OptVendorClass: []byte("PXEClient:Arch:65542")},
			want: Classification{Arch: iana.INTEL_X86PC, BootFile: "undionly.kpxe", Phase: PhaseBIOS},
		},
		{
			name: "iPXE vendor class",
			opts: dhcp.Options{
				dhcp.OptClientArch:  {0x00, 0x07},
				dhcp.OptVendorClass: []byte("iPXE-1.21"),
			},
			want: Classification{Arch: iana.EFI_BC, IPXE: true, BootFile: "boot.ipxe", Phase: PhaseIPXE},
		},
		{
			name: "iPXE user class string",
			opts: dhcp.Options{dhcp.OptUserClass: []byte("iPXE")},
			want: Classification{Arch: iana.INTEL_X86PC, IPXE: true, BootFile: "boot.ipxe", Phase: PhaseIPXE},
		},
		{
			name: "iPXE in user class list",
			opts: dhcp.Options{dhcp.OptUserClass: []byte("\x05gpxe\x04iPXE")},
			want: Classification{Arch: iana.INTEL_X86PC, IPXE: true, BootFile: "boot.ipxe", Phase: PhaseIPXE},
		},
		{
			name: "unrelated user class",
			opts: dhcp.Options{dhcp.OptUserClass: []byte("\x07netboot")},
			want: Classification{Arch: iana.INTEL_X86PC, BootFile: "undionly.kpxe", Phase: PhaseBIOS},
		},
		{
			name: "empty iPXE encapsulation",
			opts: dhcp.Options{dhcp.OptIPXEEncap: {}},
			want: Classification{Arch: iana.INTEL_X86PC, IPXE: true, BootFile: "boot.ipxe", Phase: PhaseIPXE},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.opts, DefaultBootFiles))
		})
	}
}

func TestClassifyCustomBootFiles(t *testing.T) {
	files := BootFiles{BIOS: "bios/lpxelinux.0", UEFI: "efi/snp.efi", IPXE: "menu.ipxe"}
	assert.Equal(t, "bios/lpxelinux.0", Classify(dhcp.Options{}, files).BootFile)
	assert.Equal(t, "efi/snp.efi", Classify(dhcp.Options{dhcp.OptClientArch: {0, 9}}, files).BootFile)
	assert.Equal(t, "menu.ipxe", Classify(dhcp.Options{dhcp.OptIPXEEncap: {1}}, files).BootFile)
}

func TestIsPXEClient(t *testing.T) {
	assert.True(t, isPXEClient(dhcp.Options{dhcp.OptVendorClass: []byte("PXEClient:Arch:00000:UNDI:002001")}))
	assert.True(t, isPXEClient(dhcp.Options{dhcp.OptVendorClass: []byte("PXEClient")}))
	assert.False(t, isPXEClient(dhcp.Options{dhcp.OptVendorClass: []byte("MSFT 5.0")}))
	assert.False(t, isPXEClient(dhcp.Options{}))
}
