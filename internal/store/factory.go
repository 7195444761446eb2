package store

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/refinemirror/session-proxy/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// NewFromConfig creates a store implementation based on the provided
// configuration, wrapped with instrumentation.
//
// The store type must be "memory", "file" or "valkey". Any other value
// returns an error.
func NewFromConfig(ctx context.Context, storeConfig config.StoreConfig) (Store, error) {
	switch storeConfig.Type {
	case "valkey":
		log.Info().
			Str("store_type", "valkey").
			Str("address", storeConfig.Valkey.Address).
			Bool("tls", storeConfig.Valkey.TLS).
			Str("namespace", storeConfig.Namespace).
			Msg("initializing distributed store")

		if storeConfig.Valkey.Address == "" {
			return nil, fmt.Errorf("valkey address is required when store type is valkey")
		}

		valkeyOpts := valkey.ClientOption{
			InitAddress: []string{storeConfig.Valkey.Address},
			Username:    storeConfig.Valkey.Username,
			Password:    storeConfig.Valkey.Password,
		}

		// Configure TLS if enabled
		if storeConfig.Valkey.TLS {
			valkeyOpts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		valkeyClient, err := valkey.NewClient(valkeyOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey client: %w", err)
		}

		distributed, err := NewDistributed(valkeyClient, storeConfig.Namespace)
		if err != nil {
			valkeyClient.Close()
			return nil, fmt.Errorf("failed to create distributed store: %w", err)
		}

		return NewInstrumented(distributed, "distributed"), nil

	case "file":
		log.Info().
			Str("store_type", "file").
			Str("path", storeConfig.FilePath).
			Msg("initializing file store")

		file, err := OpenFile(storeConfig.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}

		return NewInstrumented(file, "file"), nil

	case "memory":
		log.Info().
			Str("store_type", "memory").
			Msg("initializing in-memory store")

		return NewInstrumented(NewMemory(), "memory"), nil

	default:
		return nil, fmt.Errorf("invalid store type %q: must be one of \"memory\", \"file\" or \"valkey\"", storeConfig.Type)
	}
}
