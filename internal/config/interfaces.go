package config

import "context"

// SecretProvider abstracts the retrieval of secrets so that AWS SSM Parameter
// Store (deployed environments) and plain environment variables (local
// development) can be swapped freely.
type SecretProvider interface {
	// GetParametersBatch resolves the given parameter paths. Only resolved
	// parameters are present in the returned map.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
