// Command paxosctl is the one-shot client of spec.md §6: it addresses a
// single peer and transmits a "propose <value>" datagram. No reply is
// expected or read back; the caller watches the server's own output (or its
// persisted state) to see whether the suggestion was accepted.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/kvchain/multipaxos/internal/config"
	"github.com/kvchain/multipaxos/internal/wire"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "paxosctl <peer-uid> <value>",
		Short: "Suggest a new value to one peer of the multi-paxos replicated register",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "paxos.yaml", "path to the peer directory config file")

	return cmd
}

func run(configPath, peerUID, value string) error {
	cfg, err := config.LoadPeerDirectory(configPath)
	if err != nil {
		return err
	}

	addr, ok := cfg.AddressOf(peerUID)
	if !ok {
		return fmt.Errorf("paxosctl: unknown peer uid %q", peerUID)
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("paxosctl: resolve %q: %w", addr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("paxosctl: dial %q: %w", addr, err)
	}
	defer conn.Close()

	payload := wire.EncodePropose([]byte(value))
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("paxosctl: send to %s: %w", peerUID, err)
	}

	fmt.Printf("proposed %q to %s (%s)\n", value, peerUID, addr)
	return nil
}
