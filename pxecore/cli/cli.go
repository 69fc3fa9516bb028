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

// Package cli implements the commandline interface for pxeproxy.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/metal-stack/v"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"inet.af/netaddr"

	"github.com/metal-stack/pxeproxy/pcap"
	"github.com/metal-stack/pxeproxy/pxecore"
)

// CLI runs the pxeproxy commandline.
func CLI() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pxeproxy",
	Short: "PXE boot machines on a network that already runs DHCP",
	Long: `pxeproxy answers PXE firmware as a proxyDHCP server. It leaves
address leasing to the existing DHCP server, and only tells PXE clients
which file to boot: a BIOS or UEFI build of iPXE, and then an iPXE script
once iPXE runs. The boot files are served over TFTP and HTTP.`,
	Version: v.V.String(),
	Run: func(cmd *cobra.Command, args []string) {
		log, err := newLogger(viper.GetString("log-level"))
		if err != nil {
			fatalf("%s", err)
		}
		defer func() { _ = log.Sync() }()

		s, err := serverFromConfig(log)
		if err != nil {
			fatalf("%s", err)
		}

		intf, _, err := pxecore.ResolveInterface(s.ServerIP, s.InterfaceName, log)
		if err != nil {
			log.Errorw("cannot pick a network interface", "error", err)
			exitf(2, "%s", err)
		}
		s.Interface = intf

		if path := viper.GetString("trace-pcap"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				fatalf("creating trace file: %s", err)
			}
			defer f.Close()
			s.Trace = &pcap.Writer{Writer: f, LinkType: pcap.LinkEthernet, SnapLen: 65535}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Infow("starting pxeproxy", "version", v.V.String())
		if err := s.Serve(ctx); err != nil {
			log.Errorw("server failed", "error", err)
			fatalf("%s", err)
		}
		log.Info("shut down")
	},
}

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level, one of debug, info, warn or error")
	// Shared with debug subcommands, which classify with the same boot files.
	rootCmd.PersistentFlags().String("bootfile-bios", pxecore.DefaultBootFiles.BIOS, "boot file for BIOS PXE firmware")
	rootCmd.PersistentFlags().String("bootfile-uefi", pxecore.DefaultBootFiles.UEFI, "boot file for UEFI PXE firmware")
	rootCmd.PersistentFlags().String("bootfile-ipxe", pxecore.DefaultBootFiles.IPXE, "boot file for clients already running iPXE")
	serverConfigFlags(rootCmd)

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fatalf("binding flags: %s", err)
	}
	if err := viper.BindPFlags(rootCmd.Flags()); err != nil {
		fatalf("binding flags: %s", err)
	}
}

func serverConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("ip", "", "IPv4 address announced to PXE clients as boot and TFTP server (required)")
	cmd.Flags().String("bind", "0.0.0.0", "address to bind the TFTP and HTTP servers to")
	cmd.Flags().Int("tftp-port", 69, "TFTP port")
	cmd.Flags().Int("http-port", 8080, "HTTP port")
	cmd.Flags().String("tftp-root", "srv/tftp", "directory served over TFTP")
	cmd.Flags().String("http-root", "srv/http", "directory served over HTTP")
	cmd.Flags().String("iface", "", "network interface for DHCP traffic, instead of the one holding --ip")
	cmd.Flags().Bool("pxe-only", false, "ignore DHCP clients that do not identify as PXEClient")
	cmd.Flags().Bool("metrics", false, "serve Prometheus metrics on /metrics of the HTTP server")
	cmd.Flags().String("trace-pcap", "", "write every handled DHCP frame to this pcap file")
}

func initConfig() {
	if cfgFile != "" { // enable ability to specify config file via flag
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Printf("Error reading configuration file %q: %s\n", viper.ConfigFileUsed(), err)
			os.Exit(1)
		}
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	viper.SetEnvPrefix("pxeproxy")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

func serverFromConfig(log *zap.SugaredLogger) (*pxecore.Server, error) {
	raw := viper.GetString("ip")
	if raw == "" {
		return nil, fmt.Errorf("--ip is required")
	}
	ip, err := netaddr.ParseIP(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --ip: %w", err)
	}
	if !ip.Is4() {
		return nil, fmt.Errorf("--ip %s is not an IPv4 address", ip)
	}

	return &pxecore.Server{
		ServerIP:      ip,
		Address:       viper.GetString("bind"),
		InterfaceName: viper.GetString("iface"),
		TFTPPort:      viper.GetInt("tftp-port"),
		HTTPPort:      viper.GetInt("http-port"),
		TFTPRoot:      viper.GetString("tftp-root"),
		HTTPRoot:      viper.GetString("http-root"),
		BootFiles:     bootFilesFromConfig(),
		PXEOnly:       viper.GetBool("pxe-only"),
		Metrics:       viper.GetBool("metrics"),
		Log:           log,
	}, nil
}

func bootFilesFromConfig() pxecore.BootFiles {
	return pxecore.BootFiles{
		BIOS: viper.GetString("bootfile-bios"),
		UEFI: viper.GetString("bootfile-uefi"),
		IPXE: viper.GetString("bootfile-ipxe"),
	}
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func fatalf(msg string, args ...interface{}) {
	exitf(1, msg, args...)
}

func exitf(code int, msg string, args ...interface{}) {
	fmt.Printf(msg+"\n", args...)
	os.Exit(code)
}
