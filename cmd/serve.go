package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"parley/pkg/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP interaction gateway",
	Long: `Serves the interaction API with health and readiness endpoints. With the
in-memory bus the dispatcher runs in the same process; with Redis it runs
separately under "parley consume".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svcs, err := loadServices(runCtx, "cmd.serve")
		if err != nil {
			return err
		}
		defer svcs.Close()
		log := svcs.log

		processor, err := svcs.newProcessor()
		if err != nil {
			log.Error("Failed to initialize interaction processor", "error", err)
			return err
		}

		if svcs.memoryBus != nil {
			dispatcher, err := svcs.newDispatcher()
			if err != nil {
				log.Error("Failed to initialize dispatcher", "error", err)
				return err
			}
			envelopes, unsubscribe := svcs.memoryBus.Subscribe(runCtx, 0)
			defer unsubscribe()
			go dispatchLocal(runCtx, envelopes, dispatcher, log)
		}

		svc, err := gateway.NewService(svcs.cfg.Gateway, processor, svcs.store, svcs.checks, log)
		if err != nil {
			return fmt.Errorf("failed to initialize gateway: %w", err)
		}

		log.Info("Gateway starting", "bus", svcs.busBackend(), "storage", svcs.cfg.Storage.Backend, "provider", svcs.cfg.Provider.Name, "model", svcs.cfg.Completion.Model)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("Gateway runtime failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
