package app

import (
	"os"

	"cookalert/internal/config"
)

const defaultRegion = "us-east-1"

// LoadConfig loads the process configuration. Outside APP_ENV=local the
// *_SSM_PARAM pointers are resolved through Parameter Store, or through the
// environment itself when SECRET_PROVIDER=env.
func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(secretProvider(os.Getenv))
}

func secretProvider(getenv func(string) string) config.SecretProvider {
	if env := getenv("APP_ENV"); env == "" || env == "local" {
		return nil
	}
	if getenv("SECRET_PROVIDER") == "env" {
		return config.NewEnvProvider()
	}
	region := getenv("AWS_REGION")
	if region == "" {
		region = defaultRegion
	}
	return config.NewSSMProvider(region, getenv("AWS_ENDPOINT_URL"))
}
