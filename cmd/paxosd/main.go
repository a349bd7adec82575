// Command paxosd boots one peer of the multi-paxos chain: it loads the
// static configuration, binds the UDP transport, constructs the layered
// replicator engine, and runs its event loop until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kvchain/multipaxos/internal/config"
	"github.com/kvchain/multipaxos/internal/replicator"
	"github.com/kvchain/multipaxos/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var master bool

	cmd := &cobra.Command{
		Use:   "paxosd <uid>",
		Short: "Run one peer of the multi-paxos replicated register",
		Long: "paxosd boots a single peer identified by uid, a member of the " +
			"peer directory loaded from --config. With --master it joins the " +
			"replicated register with the master-lease strategy enabled.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], configPath, master)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "paxos.yaml", "path to the peer directory / tuning config file")
	cmd.Flags().BoolVar(&master, "master", false, "enable the master-lease strategy for this peer")

	return cmd
}

func run(uid, configPath string, master bool) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if cfg.UID != uid {
		return fmt.Errorf("paxosd: config %s is for peer %q, not %q", configPath, cfg.UID, uid)
	}
	cfg.Master = master || cfg.Master

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("paxosd: build logger: %w", err)
	}
	defer log.Sync()

	log = log.With(zap.String("uid", cfg.UID))

	trans, err := transport.New(cfg, log)
	if err != nil {
		return fmt.Errorf("paxosd: %w", err)
	}
	defer trans.Close()

	eng, err := replicator.NewEngine(cfg, trans, log)
	if err != nil {
		return fmt.Errorf("paxosd: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("paxosd: peer started",
		zap.String("state_path", cfg.StatePath),
		zap.Bool("master_lease", cfg.Master),
		zap.Strings("peers", cfg.PeerUIDs()))

	eng.Run(ctx)

	log.Info("paxosd: shutting down")
	return nil
}
