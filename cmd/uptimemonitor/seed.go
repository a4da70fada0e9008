package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/hamed0406/uptimemonitor/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Create the clients and websites listed in a YAML file",
	Long: `seed creates every client (matched by email) and website (matched by client
and URL) that does not exist yet. Running it twice is harmless.

Example:
  uptimemonitor seed deploy/seed.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		f, err := seed.Load(args[0])
		if err != nil {
			return err
		}
		ctx := context.Background()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, store.Close()) }()

		res, err := seed.Apply(ctx, store, f, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "clients: %d created, %d existing; websites: %d created, %d existing\n",
			res.ClientsCreated, res.ClientsExisting, res.SitesCreated, res.SitesExisting)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
