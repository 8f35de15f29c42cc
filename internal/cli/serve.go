package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/lanpos/internal/peer"
	"github.com/roach88/lanpos/internal/relay"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Peers    []string
	Relay    string
	Interval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Share this till's changes with the rest of the LAN",
		Long: `Serve the peer sync API and keep this till in sync with others.

The till answers sync requests on --listen, pulls from and pushes to every
--peer each interval, and, with --relay, exchanges changes through a Redis
stream for tills that cannot reach each other directly.

Example:
  lanpos serve --db till1.db --listen :7420 --peer http://10.0.0.3:7420
  lanpos serve --db till1.db --relay redis.local:6379`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.applyConfig(cmd)
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (default $LANPOS_LISTEN_ADDR or :7420)")
	cmd.Flags().StringArrayVar(&opts.Peers, "peer-url", nil, "base URL of another till (repeatable; default $LANPOS_PEERS)")
	cmd.Flags().StringVar(&opts.Relay, "relay", "", "Redis address for the relay (default $LANPOS_RELAY_ADDR)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "sync interval (default $LANPOS_SYNC_INTERVAL or 5s)")

	return cmd
}

func (o *ServeOptions) applyConfig(cmd *cobra.Command) {
	cfg := o.Config
	if o.Listen == "" {
		o.Listen = cfg.ListenAddr
	}
	if !cmd.Flags().Changed("peer-url") {
		o.Peers = cfg.Peers
	}
	if o.Relay == "" {
		o.Relay = cfg.RelayAddr
	}
	if o.Interval <= 0 {
		o.Interval = cfg.SyncInterval
	}
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	rep, err := opts.openReplica()
	if err != nil {
		return err
	}
	defer opts.closeReplica(rep)

	ctx, cancel := signalContext(cmd, opts.RootOptions)
	defer cancel()

	srv := &http.Server{
		Addr:              opts.Listen,
		Handler:           peer.NewRouter(rep, peer.WithRouterLogger(opts.Logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		opts.Logger.Info("peer API listening", "addr", opts.Listen, "peer", rep.PeerID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", opts.Listen, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	})

	if len(opts.Peers) > 0 {
		clients := make([]*peer.Client, len(opts.Peers))
		for i, u := range opts.Peers {
			clients[i] = peer.NewClient(u, nil)
		}
		g.Go(func() error {
			return peer.SyncLoop(gctx, rep, clients, opts.Interval, opts.Logger)
		})
	}

	if opts.Relay != "" {
		client, err := relay.Connect(gctx, opts.Relay)
		if err != nil {
			cancel()
			_ = g.Wait()
			return WrapExitError(ExitCommandError, "failed to connect to relay", err)
		}
		defer client.Close()
		r := relay.New(client, rep, relay.WithLogger(opts.Logger))
		g.Go(func() error {
			return r.Run(gctx, opts.Interval)
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Till %s serving on %s. Press Ctrl-C to stop.\n", rep.PeerID(), opts.Listen)

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "serve error", err)
	}
	opts.Logger.Info("stopped gracefully")
	return nil
}
