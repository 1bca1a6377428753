package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"meetkit/internal/infrastructure/distributed"
	"meetkit/pkg/logger"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print events published by running meetkit instances",
	Long: "Subscribe to the redis events channel and print every metric snapshot,\n" +
		"tile change and client event as one JSON line.",
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("meetkit watch: %w", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync() //nolint:errcheck
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client, err := distributed.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
	if err != nil {
		return fmt.Errorf("meetkit watch: %w", err)
	}
	defer client.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	err = distributed.Follow(ctx, client, cfg.Redis.Channel, "", log.Named("watch"), func(event *distributed.Event) error {
		return enc.Encode(event)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
