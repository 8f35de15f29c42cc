package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/lanpos/internal/catalog"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Catalog string
}

// SeedResult is the output of the seed command.
type SeedResult struct {
	Seeded     bool `json:"seeded"`
	Users      int  `json:"users"`
	Categories int  `json:"categories"`
	Products   int  `json:"products"`
}

// WriteText implements TextWriter.
func (r SeedResult) WriteText(w io.Writer) error {
	if !r.Seeded {
		_, err := fmt.Fprintln(w, "Database already has users; nothing seeded.")
		return err
	}
	_, err := fmt.Fprintf(w, "Seeded %s, %s and %s.\n",
		plural(r.Users, "user"), plural(r.Categories, "category"), plural(r.Products, "product"))
	return err
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the starting catalog into an empty database",
		Long: `Load users, categories and products into a database that has no users yet.

Without --catalog the built-in demo catalog is used. A custom catalog is a
CUE file validated against the catalog schema.

Example:
  lanpos seed --db till1.db
  lanpos seed --db till1.db --catalog ./store.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to a .cue catalog (default: built-in)")

	return cmd
}

func runSeed(cmd *cobra.Command, opts *SeedOptions) error {
	var (
		cat *catalog.Catalog
		err error
	)
	if opts.Catalog != "" {
		cat, err = catalog.LoadFile(opts.Catalog)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	rep, err := opts.openReplica()
	if err != nil {
		return err
	}
	defer opts.closeReplica(rep)

	seeder := catalog.Seeder{Cost: bcrypt.DefaultCost, Logger: opts.Logger}
	if opts.PinCost > 0 {
		seeder.Cost = opts.PinCost
	}
	seeded, err := seeder.Seed(commandContext(cmd), rep, cat)
	if err != nil {
		return WrapExitError(ExitFailure, "seed failed", err)
	}

	result := SeedResult{Seeded: seeded}
	if seeded {
		result.Users = len(cat.Users)
		result.Categories = len(cat.Categories)
		result.Products = len(cat.Products)
	}
	return opts.formatter(cmd).Success(result)
}
