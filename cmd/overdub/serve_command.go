package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"overdub/internal/daemon"
	"overdub/internal/logging"
	"overdub/internal/pipeline"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the overdub HTTP daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := cmd.Context()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(false)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := ctx.openHistory(runCtx)
			if err != nil {
				return err
			}
			var recorder pipeline.Recorder
			if store != nil {
				recorder = store
			}
			controller, err := pipeline.NewFromConfig(runCtx, cfg, logger, recorder)
			if err != nil {
				if store != nil {
					_ = store.Close()
				}
				return err
			}

			d, err := daemon.New(cfg, controller, store, logger)
			if err != nil {
				_ = controller.Close()
				return err
			}
			defer d.Close()

			if err := d.Start(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "overdub listening on http://%s\n", d.Addr())

			<-runCtx.Done()
			logger.Info("overdub daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
			return nil
		},
	}
}
