package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/app"
	"github.com/JakeFAU/directory-crawler/internal/report"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspects or clears the persisted session identity",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Prints the persisted session without cookie values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSessions(cmd, func(svc *app.Services, key string) error {
				snap, err := svc.Sessions.Get(cmd.Context(), key)
				if err != nil {
					return fmt.Errorf("load session: %w", err)
				}
				report.Session(cmd.OutOrStdout(), key, snap)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Deletes the persisted session so the next run starts fresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSessions(cmd, func(svc *app.Services, key string) error {
				if err := svc.Sessions.Delete(cmd.Context(), key); err != nil {
					return fmt.Errorf("reset session: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session %s reset\n", key)
				return nil
			})
		},
	})
	return cmd
}

func withSessions(cmd *cobra.Command, fn func(svc *app.Services, key string) error) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	svc, err := app.OpenSessions(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			rt.logger.Warn("failed to close session store", zap.Error(err))
		}
	}()
	return fn(svc, rt.cfg.Session.Key)
}
