package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/api"
)

var apiBranch string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Start the trendoor API server. Test runners on other machines post phase
events to it and it serves the summary and the HTML report.`,
	RunE: runAPI,
}

var apiTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an ingestion token and its bcrypt hash",
	Long: `Print a new random bearer token and the bcrypt hash to add to
api.auth.token_hashes. Only the hash belongs in the config file.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, hash, err := api.GenerateToken()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "token: %s\nhash:  %s\n", token, hash)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.AddCommand(apiTokenCmd)
	apiCmd.Flags().StringVar(&apiBranch, "branch", "",
		"Default branch shown in reports (default: current git branch)")
}

func runAPI(_ *cobra.Command, _ []string) error {
	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	srv := api.NewServer(log, cfg, resolveBranch(apiBranch))

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
