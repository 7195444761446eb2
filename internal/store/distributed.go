package store

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// clientCacheTTL bounds how long a field read may be served from the
// client-side cache. Server-assisted tracking invalidates it earlier on
// writes.
const clientCacheTTL = time.Minute

// Distributed implements Store as a single Valkey hash, using server-assisted
// client-side caching for reads. Several proxy processes sharing a namespace
// see the same session.
type Distributed struct {
	client    valkey.Client
	namespace string
}

// NewDistributed creates a new Valkey-backed store. All fields are kept in
// the hash named by namespace.
func NewDistributed(valkeyClient valkey.Client, namespace string) (*Distributed, error) {
	if namespace == "" {
		return nil, fmt.Errorf("valkey store namespace must not be empty")
	}

	return &Distributed{
		client:    valkeyClient,
		namespace: namespace,
	}, nil
}

// GetField retrieves a field using server-assisted client-side caching.
func (d *Distributed) GetField(ctx context.Context, key string) (string, bool, error) {
	cmd := d.client.B().Hget().Key(d.namespace).Field(key).Cache()
	result := d.client.DoCache(ctx, cmd, clientCacheTTL)

	if err := result.Error(); err != nil {
		// Field not found is not an error in our semantics
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get stored field: %w", err)
	}

	val, err := result.ToString()
	if err != nil {
		return "", false, fmt.Errorf("failed to convert stored field to string: %w", err)
	}

	return val, true, nil
}

func (d *Distributed) SetField(ctx context.Context, key, value string) error {
	cmd := d.client.B().Hset().Key(d.namespace).FieldValue().FieldValue(key, value).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set stored field: %w", err)
	}
	return nil
}

func (d *Distributed) ClearAll(ctx context.Context) error {
	cmd := d.client.B().Del().Key(d.namespace).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to clear stored fields: %w", err)
	}
	return nil
}

// Close releases resources associated with the store client.
func (d *Distributed) Close() error {
	d.client.Close()
	return nil
}
