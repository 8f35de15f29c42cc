package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lanpos/internal/peer"
	"github.com/roach88/lanpos/internal/replica"
)

// SyncResult is the output of the sync command.
type SyncResult struct {
	Local    string `json:"local"`
	Remote   string `json:"remote"`
	Sent     int    `json:"sent"`
	Received int    `json:"received"`
}

// WriteText implements TextWriter.
func (r SyncResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Synced %s with %s: sent %s, received %s.\n",
		r.Local, r.Remote, plural(r.Sent, "op"), plural(r.Received, "op"))
	return err
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <other.db | http://peer:7420>",
		Short: "Exchange changes with another till",
		Long: `Exchange missing changes with another till in both directions.

The other till is either a database file (for example one copied over on a
USB stick) or the address of a till running "lanpos serve".

Example:
  lanpos sync --db till1.db ./till2.db
  lanpos sync --db till1.db http://10.0.0.2:7420`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, args[0])
		},
	}
}

func runSync(cmd *cobra.Command, opts *RootOptions, target string) error {
	ctx := commandContext(cmd)

	rep, err := opts.openReplica()
	if err != nil {
		return err
	}
	defer opts.closeReplica(rep)

	var stats replica.SyncStats
	if isURL(target) {
		stats, err = peer.NewClient(target, nil).Sync(ctx, rep)
	} else {
		var other *replica.Replica
		other, err = replica.Open(target, replica.WithLogger(opts.Logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open other database", err)
		}
		defer opts.closeReplica(other)
		stats, err = replica.Sync(ctx, rep, other)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	opts.Logger.Info("sync complete", "remote", target, "sent", stats.AToB, "received", stats.BToA)
	return opts.formatter(cmd).Success(SyncResult{
		Local:    opts.DB,
		Remote:   target,
		Sent:     stats.AToB,
		Received: stats.BToA,
	})
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
