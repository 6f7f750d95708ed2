package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BootstrapClient is a client registered at startup with a known secret.
type BootstrapClient struct {
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	Name          string   `yaml:"name"`
	RedirectURIs  []string `yaml:"redirect_uris"`
	AllowedScopes []string `yaml:"allowed_scopes"`
}

type bootstrapFile struct {
	Clients []BootstrapClient `yaml:"clients"`
}

// LoadBootstrapClients reads the clients listed in a YAML file:
//
//	clients:
//	  - client_id: c1
//	    client_secret: s1
//	    name: Example
//	    redirect_uris: [https://app/cb]
//	    allowed_scopes: [read, write]
func LoadBootstrapClients(path string) ([]BootstrapClient, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bootstrap clients file: %w", err)
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse bootstrap clients file: %w", err)
	}

	seen := make(map[string]bool, len(file.Clients))
	for i, c := range file.Clients {
		if c.ClientID == "" || c.ClientSecret == "" {
			return nil, fmt.Errorf("bootstrap client #%d: %w", i+1, errors.New("client_id and client_secret are required"))
		}
		if seen[c.ClientID] {
			return nil, fmt.Errorf("bootstrap client %q is listed twice", c.ClientID)
		}
		seen[c.ClientID] = true
	}

	return file.Clients, nil
}
