package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RelayHTTPAddr is host:port of a running relay, the suites are skipped when empty
	RelayHTTPAddr string `envconfig:"RELAY_HTTP_ADDR"`
	RelayGrpcAddr string `envconfig:"RELAY_GRPC_ADDR"`
	// E2E_DEBUG_JSON allows dumping full gRPC request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
