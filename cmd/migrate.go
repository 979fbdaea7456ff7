package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corelay/corelay/internal/config"
	"github.com/corelay/corelay/internal/store"
)

// migrateCmd applies pending schema migrations to the configured sqlite
// database. Unlike goclaw's Postgres migrate tree (up/down/version/force/
// goto against a long-lived shared database), corelay's embedded sqlite
// store applies its migrations automatically on every store.Open, so this
// subcommand's only job is to do that open/close cycle explicitly and
// report the outcome — there is no separate server process to restart
// into a freshly migrated schema.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			defer st.Close()
			fmt.Printf("database at %s is up to date\n", config.ExpandHome(cfg.Database.Path))
			return nil
		},
	}
}
