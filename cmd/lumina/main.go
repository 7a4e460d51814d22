package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/luminahealthlabs/lumina/internal/account"
	"github.com/luminahealthlabs/lumina/internal/affiliate"
	"github.com/luminahealthlabs/lumina/internal/clock"
	"github.com/luminahealthlabs/lumina/internal/config"
	"github.com/luminahealthlabs/lumina/internal/db"
	"github.com/luminahealthlabs/lumina/internal/migration"
	"github.com/luminahealthlabs/lumina/internal/observability"
	"github.com/luminahealthlabs/lumina/internal/payment"
	"github.com/luminahealthlabs/lumina/internal/redis"
	"github.com/luminahealthlabs/lumina/internal/scheduler"
	"github.com/luminahealthlabs/lumina/internal/server"
	"github.com/luminahealthlabs/lumina/internal/subscription"
	"github.com/luminahealthlabs/lumina/internal/usage"
	"github.com/luminahealthlabs/lumina/internal/wallet"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "lumina",
		Short:   "Lumina billing core CLI",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and activate schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the billing API server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runServe()
			return nil
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runServe() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		account.Module,
		subscription.Module,
		wallet.Module,
		usage.Module,
		affiliate.Module,
		payment.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
