package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fieldsync/internal/config"
	"fieldsync/syncengine"
)

var configPath string

func main() {
	// A .env next to the binary can hold the auth token and tenant id so
	// they stay out of the YAML file.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "fieldsync-agent",
		Short: "Offline-first mutation queue agent for field technicians",
		Long: "fieldsync-agent keeps technician actions durable while the backend is " +
			"unreachable and replays them in order once connectivity returns.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "fieldsync.yaml", "path to the agent config file")

	root.AddCommand(runCmd())
	root.AddCommand(checkCmd())

	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the sync engine and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			engine, err := syncengine.SetUp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return engine.Run(cmd.Context())
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and report the queue state, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			engine, err := syncengine.SetUp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer engine.Stop()

			records, err := engine.Manager().Records(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("config ok: instance=%s storage=%s lock=%s queued=%d\n",
				cfg.Instance, cfg.StorageDriver, cfg.LockDriver, len(records))
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if token := os.Getenv("FIELDSYNC_AUTH_TOKEN"); token != "" {
		cfg.AuthToken = token
	}
	if tenant := os.Getenv("FIELDSYNC_TENANT_ID"); tenant != "" {
		cfg.TenantID = tenant
	}
	return cfg, nil
}
