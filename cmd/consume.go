package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"parley/pkg/config"
	"parley/pkg/dispatch/redisqueue"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Dispatch events from the Redis stream",
	Long:  "Reads event batches from the configured Redis stream as a consumer group member, runs the per-type handlers and escalates severe system errors.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svcs, err := loadServices(runCtx, "cmd.consume")
		if err != nil {
			return err
		}
		defer svcs.Close()
		log := svcs.log

		if svcs.redis == nil {
			err := errors.New(`consume requires bus.backend "redis"`)
			log.Error("Dispatcher configuration invalid", "error", err)
			return err
		}

		dispatcher, err := svcs.newDispatcher()
		if err != nil {
			log.Error("Failed to initialize dispatcher", "error", err)
			return err
		}

		queue := svcs.cfg.Queue
		consumer, err := redisqueue.New(svcs.redis, dispatcher, redisqueue.Options{
			Stream:    svcs.cfg.Bus.Stream,
			Group:     queue.Group,
			Consumer:  queue.Consumer,
			BatchSize: queue.BatchSize,
			Block:     time.Duration(queue.BlockMS) * time.Millisecond,
			Log:       log,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize queue consumer: %w", err)
		}

		log.Info("Dispatcher started", "bus", config.BusRedis, "min_severity", svcs.cfg.Alerts.MinSeverity, "telegram", svcs.cfg.Alerts.Telegram.Enabled)
		return consumer.Run(runCtx)
	},
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}
