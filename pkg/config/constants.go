package config

const (
	// EnvPrefix is the envconfig prefix for every setting.
	EnvPrefix = "LIBRARY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)
