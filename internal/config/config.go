// Package config models tutelliv.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"tutelliv/internal/domain"
)

const fileName = "tutelliv.yml"

// Config is the full service configuration.
type Config struct {
	Server struct {
		Listen      string   `yaml:"listen"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Auth struct {
		Secret          string        `yaml:"secret"`
		TokenTTLMinutes int           `yaml:"token_ttl_minutes"`
		Users           []domain.User `yaml:"users"`
	} `yaml:"auth"`
	Journal struct {
		Workspace string `yaml:"workspace"`
	} `yaml:"journal"`
}

// Default returns the demo configuration: the two static accounts the front
// end ships with, local CORS, and a 24h token lifetime.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Listen = "127.0.0.1:8000"
	cfg.Server.CORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	cfg.Auth.Secret = "CHANGE_ME_WITH_A_LONG_RANDOM_SECRET"
	cfg.Auth.TokenTTLMinutes = 24 * 60
	cfg.Auth.Users = []domain.User{
		{ID: 1, Email: "mjpm@example.com", Password: "mjpm123", Role: domain.RoleMJPM, Name: "MJPM Demo"},
		{ID: 2, Email: "livreur@example.com", Password: "livreur123", Role: domain.RoleDeliverer, Name: "Livreur Demo"},
	}
	cfg.Journal.Workspace = "."
	return cfg
}

// Path returns the config file location inside a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads config from the workspace, falling back to Default when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates raw config bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("config.auth.secret is required")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	if len(c.Auth.Users) == 0 {
		return fmt.Errorf("config.auth.users is required")
	}
	seenEmail := map[string]bool{}
	seenID := map[int]bool{}
	for _, u := range c.Auth.Users {
		if u.Email == "" {
			return fmt.Errorf("config.auth.users contains an empty email")
		}
		if seenEmail[u.Email] {
			return fmt.Errorf("config.auth.users has duplicate email %s", u.Email)
		}
		if seenID[u.ID] {
			return fmt.Errorf("config.auth.users has duplicate id %d", u.ID)
		}
		if u.Role != domain.RoleMJPM && u.Role != domain.RoleDeliverer {
			return fmt.Errorf("user %s has unknown role %s", u.Email, u.Role)
		}
		seenEmail[u.Email] = true
		seenID[u.ID] = true
	}
	return nil
}

// FindUser matches email and plaintext password against the static list.
func (c *Config) FindUser(email, password string) (domain.User, bool) {
	for _, u := range c.Auth.Users {
		if u.Email == email && u.Password == password {
			return u, true
		}
	}
	return domain.User{}, false
}
