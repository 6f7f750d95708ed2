package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/mcp-oauth/domain"
	"github.com/pilab-dev/mcp-oauth/services"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// clientOutput is the YAML shape of a client. ClientSecret is only set right
// after creation or a secret reset.
type clientOutput struct {
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret,omitempty"`
	Name          string   `yaml:"name"`
	RedirectURIs  []string `yaml:"redirect_uris"`
	AllowedScopes []string `yaml:"allowed_scopes"`
	CreatedAt     string   `yaml:"created_at"`
	UpdatedAt     string   `yaml:"updated_at"`
}

func toOutput(c *domain.Client, secret string) clientOutput {
	return clientOutput{
		ClientID:      c.ID,
		ClientSecret:  secret,
		Name:          c.Name,
		RedirectURIs:  c.RedirectURIs,
		AllowedScopes: c.AllowedScopes,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339),
	}
}

func printYAML(cmd *cobra.Command, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(out)

	return err
}

func newClientCmd(a *app) *cobra.Command {
	clientCmd := &cobra.Command{
		Use:     "client",
		Short:   "Manage OAuth2 clients",
		Aliases: []string{"clients"},
	}

	clientCmd.AddCommand(
		newClientCreateCmd(a),
		newClientGetCmd(a),
		newClientListCmd(a),
		newClientUpdateCmd(a),
		newClientResetSecretCmd(a),
		newClientDeleteCmd(a),
	)

	return clientCmd
}

func newClientCreateCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "create",
		Short: "Register a new OAuth2 client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			redirectURIs, _ := cmd.Flags().GetStringSlice("redirect-uri")
			scopes, _ := cmd.Flags().GetStringSlice("scope")

			if name == "" {
				return errors.New("--name is required")
			}

			client, secret, err := a.clients.CreateClient(cmd.Context(), services.CreateClientRequest{
				Name:          name,
				RedirectURIs:  redirectURIs,
				AllowedScopes: scopes,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.ErrOrStderr(), "IMPORTANT: Store the client_secret securely. It will not be shown again.")

			return printYAML(cmd, toOutput(client, secret))
		},
	}

	c.Flags().String("name", "", "Client display name")
	c.Flags().StringSlice("redirect-uri", nil, "Allowed redirect URI (repeatable)")
	c.Flags().StringSlice("scope", nil, "Allowed scope (repeatable, defaults to \"default\")")

	return c
}

func newClientGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <client-id>",
		Short: "Show a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.clients.GetClient(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return printYAML(cmd, toOutput(client, ""))
		},
	}
}

func newClientListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			clients, err := a.clients.ListClients(cmd.Context())
			if err != nil {
				return err
			}

			if len(clients) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No clients found.")
				return nil
			}

			out := make([]clientOutput, 0, len(clients))
			for _, c := range clients {
				out = append(out, toOutput(c, ""))
			}

			return printYAML(cmd, out)
		},
	}
}

func newClientUpdateCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "update <client-id>",
		Short: "Change the name, redirect URIs or scopes of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var update domain.ClientUpdate

			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				update.Name = &name
			}
			if cmd.Flags().Changed("redirect-uri") {
				uris, _ := cmd.Flags().GetStringSlice("redirect-uri")
				update.RedirectURIs = &uris
			}
			if cmd.Flags().Changed("scope") {
				scopes, _ := cmd.Flags().GetStringSlice("scope")
				update.AllowedScopes = &scopes
			}

			client, err := a.clients.UpdateClient(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}

			return printYAML(cmd, toOutput(client, ""))
		},
	}

	c.Flags().String("name", "", "New display name")
	c.Flags().StringSlice("redirect-uri", nil, "Replacement redirect URI list (repeatable)")
	c.Flags().StringSlice("scope", nil, "Replacement scope list (repeatable)")

	return c
}

func newClientResetSecretCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-secret <client-id>",
		Short: "Issue a new client secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, secret, err := a.clients.ResetSecret(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.ErrOrStderr(), "IMPORTANT: The previous secret no longer works.")

			return printYAML(cmd, toOutput(client, secret))
		},
	}
}

func newClientDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <client-id>",
		Short: "Delete a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.clients.DeleteClient(cmd.Context(), args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Client %s deleted.\n", args[0])

			return nil
		},
	}
}
