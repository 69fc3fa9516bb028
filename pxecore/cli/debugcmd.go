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

package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"

	"github.com/metal-stack/pxeproxy/dhcp"
	"github.com/metal-stack/pxeproxy/pcap"
	"github.com/metal-stack/pxeproxy/pxecore"
)

var (
	debugCmd = &cobra.Command{
		Use:    "debug",
		Short:  "Internal debugging commands",
		Hidden: true,
	}
	classifyCmd = &cobra.Command{
		Use:   "classify capture.pcap",
		Short: "Show how each DHCP request in a capture would be answered",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f, err := os.Open(args[0])
			if err != nil {
				fatalf("Error opening capture: %s", err)
			}
			defer f.Close()
			if err := classifyCapture(f, cmd.OutOrStdout(), bootFilesFromConfig()); err != nil {
				fatalf("Error reading %s: %s", args[0], err)
			}
		},
	}
)

func init() {
	debugCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(debugCmd)
}

// classifyCapture prints one line per Discover or Request found in a
// pcap stream.
func classifyCapture(r io.Reader, out io.Writer, files pxecore.BootFiles) error {
	pr, err := pcap.NewReader(r)
	if err != nil {
		return err
	}
	if pr.LinkType != pcap.LinkEthernet {
		return fmt.Errorf("unsupported link type %d, need ethernet", pr.LinkType)
	}

	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprintln(w, "#\tTIME\tCLIENT\tTYPE\tPHASE\tARCH\tBOOT")
	n := 0
	for pr.Next() {
		n++
		pkt := pr.Packet()
		req, err := dhcp.ParseFrame(pkt.Bytes)
		if err != nil {
			continue
		}
		if req.MsgType != layers.DHCPMsgTypeDiscover && req.MsgType != layers.DHCPMsgTypeRequest {
			continue
		}
		c := pxecore.Classify(req.Options, files)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			n, pkt.Timestamp.UTC().Format("15:04:05.000"), req.CHAddr, req.MsgType, c.Phase, uint16(c.Arch), c.BootFile)
	}
	if err := pr.Err(); err != nil {
		return err
	}
	return w.Flush()
}
