package config

import (
	"context"
	"os"
)

// EnvProvider resolves parameter paths as environment variable names. It
// stands in for SSM when SECRET_PROVIDER=env, e.g. in docker-compose
// staging stacks that have no Parameter Store.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvProvider() EnvProvider {
	return EnvProvider{lookup: os.LookupEnv}
}

func (p EnvProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	lookup := p.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := lookup(k); ok {
			out[k] = v
		}
	}
	return out, nil
}
