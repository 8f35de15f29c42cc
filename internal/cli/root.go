// Package cli implements the lanpos command line.
package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lanpos/internal/config"
	"github.com/roach88/lanpos/internal/ids"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DB      string
	PeerID  string

	// Config is loaded from LANPOS_* variables before each command runs.
	Config *config.Config
	Logger *slog.Logger

	// IDs overrides the order and product id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs ids.Generator
	// PinCost overrides the bcrypt cost used when seeding (for testing).
	PinCost int
	// Now overrides the wall clock (for testing).
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the lanpos CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lanpos",
		Short: "lanpos - offline-first point of sale",
		Long: `A point-of-sale till that keeps working without a network.

Every till holds a full replica of users, catalog and orders in a local
SQLite file and exchanges changes with the other tills on the LAN when it
can reach them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to the till database (default $LANPOS_DB or lanpos.db)")
	cmd.PersistentFlags().StringVar(&opts.PeerID, "peer", "", "peer id for a new database (default $LANPOS_PEER_ID or a random id)")

	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewProductsCommand(opts))
	cmd.AddCommand(NewSellCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// load reads the environment, applies flag overrides and installs the logger.
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.DB == "" {
		o.DB = cfg.DB
	}
	if o.PeerID == "" {
		o.PeerID = cfg.PeerID
	}
	o.Config = cfg

	if o.Logger == nil {
		o.Logger = config.NewLogger(cfg.LogFormat, o.Verbose, cmd.ErrOrStderr())
		slog.SetDefault(o.Logger)
	}
	if o.IDs == nil {
		o.IDs = ids.UUIDv7Generator{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
