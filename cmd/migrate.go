package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgateway/internal/config"
	"github.com/nextlevelbuilder/agentgateway/internal/queue"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending delivery queue schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("migrate: load config: %w", err)
			}
			if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
				return fmt.Errorf("migrate: create workspace: %w", err)
			}

			q, err := queue.Open(cfg.Workspace)
			if err != nil {
				return fmt.Errorf("migrate: open queue: %w", err)
			}
			defer q.Close()

			fmt.Printf("migrate: delivery queue at %s is up to date\n", cfg.Workspace)
			return nil
		},
	}
}
