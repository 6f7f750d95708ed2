package cmd

import (
	"fmt"
	"os"

	"github.com/pilab-dev/mcp-oauth/config"
	"github.com/pilab-dev/mcp-oauth/internal/auth"
	"github.com/pilab-dev/mcp-oauth/internal/server"
	"github.com/pilab-dev/mcp-oauth/log"
	"github.com/pilab-dev/mcp-oauth/services"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const appName = "oauthctl"

// app holds what the subcommands work on. Tests preset clients.
type app struct {
	clients *services.ClientService
	stores  *server.Stores
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "oauthctl manages the clients of an mcp-oauth server",
		Long: `A command-line interface for registering and maintaining OAuth clients.
It talks to the server's storage directly and reads the same MCP_OAUTH_*
configuration as the server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.clients != nil {
				return nil
			}

			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.stores == nil {
				return nil
			}

			return a.stores.Close(cmd.Context())
		},
	}

	rootCmd.AddCommand(newClientCmd(a))

	return rootCmd
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if cfg.StoreDriver == config.StoreMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: STORE_DRIVER is memory; changes are lost when oauthctl exits.")
	}

	stores, err := server.OpenStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	a.stores = stores
	a.clients = services.NewClientService(
		stores.Clients,
		auth.NewBcryptSecretHasher(cfg.BcryptCost),
		log.NewZerologAdapter(zerolog.WarnLevel, true),
	)

	return nil
}
