// Package secrets loads exchange API credentials from HashiCorp Vault,
// falling back to a local in-memory store when Vault is disabled.
// Grounded on the teacher's internal/vault/client.go: the same
// enabled-flag no-op constructor and cache-map shape, generalized from
// per-user multi-exchange key storage to the single-account credential
// this engine needs.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"futures-signal-engine/internal/logging"
)

// Config mirrors the teacher's config.VaultConfig shape.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	TLSEnabled bool
	CACert     string
	SecretPath string // e.g. "secret/data/futures-signal-engine/exchange"
}

// Credentials is the exchange API key pair the engine needs to place
// authenticated REST calls (market-data endpoints used here are public,
// but the secret store is wired for the account/user-data endpoints a
// future order-routing surface would need).
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Store wraps a Vault client with a disabled-mode local cache.
type Store struct {
	client  *api.Client
	cfg     Config
	mu      sync.RWMutex
	cache   map[string]Credentials
	log     *logging.Logger
}

// NewStore constructs a Store. When cfg.Enabled is false, all reads and
// writes operate on an in-memory cache only, matching the teacher's
// development-mode fallback.
func NewStore(cfg Config) (*Store, error) {
	log := logging.WithComponent("secrets")
	if !cfg.Enabled {
		return &Store{cfg: cfg, cache: make(map[string]Credentials), log: log}, nil
	}

	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = cfg.Address
	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultCfg.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("secrets: configuring tls: %w", err)
		}
	}
	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Store{client: client, cfg: cfg, cache: make(map[string]Credentials), log: log}, nil
}

// StoreCredentials writes the exchange API key pair.
func (s *Store) StoreCredentials(ctx context.Context, name string, creds Credentials) error {
	if !s.cfg.Enabled {
		s.mu.Lock()
		s.cache[name] = creds
		s.mu.Unlock()
		return nil
	}

	data := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
		},
	}
	path := fmt.Sprintf("%s/%s", s.cfg.SecretPath, name)
	if _, err := s.client.Logical().WriteWithContext(ctx, path, data); err != nil {
		return fmt.Errorf("secrets: writing vault secret: %w", err)
	}
	return nil
}

// Credentials reads the exchange API key pair back.
func (s *Store) Credentials(ctx context.Context, name string) (Credentials, error) {
	if !s.cfg.Enabled {
		s.mu.RLock()
		defer s.mu.RUnlock()
		c, ok := s.cache[name]
		if !ok {
			return Credentials{}, fmt.Errorf("secrets: no cached credentials for %q", name)
		}
		return c, nil
	}

	path := fmt.Sprintf("%s/%s", s.cfg.SecretPath, name)
	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: reading vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, fmt.Errorf("secrets: no secret at %q", path)
	}
	inner, _ := secret.Data["data"].(map[string]interface{})
	apiKey, _ := inner["api_key"].(string)
	secretKey, _ := inner["secret_key"].(string)
	return Credentials{APIKey: apiKey, SecretKey: secretKey}, nil
}
