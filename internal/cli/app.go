package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/lanpos/internal/replica"
	"github.com/roach88/lanpos/internal/session"
)

// openReplica opens the till database named by --db.
func (o *RootOptions) openReplica() (*replica.Replica, error) {
	o.Logger.Debug("opening database", "path", o.DB)
	rep, err := replica.Open(o.DB, replica.WithPeerID(o.PeerID), replica.WithLogger(o.Logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return rep, nil
}

func (o *RootOptions) closeReplica(rep *replica.Replica) {
	if err := rep.Close(); err != nil {
		o.Logger.Error("error closing database", "error", err)
	}
}

// login signs in the operator named by --user/--pin.
func (o *RootOptions) login(ctx context.Context, rep *replica.Replica, user, pin string) (*session.Session, error) {
	if user == "" {
		return nil, NewExitError(ExitCommandError, "--user is required")
	}
	sess := session.New(rep, o.Logger)
	if _, err := sess.Login(ctx, user, pin); err != nil {
		return nil, WrapExitError(ExitFailure, "login failed", err)
	}
	return sess, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, o *RootOptions) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			o.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
