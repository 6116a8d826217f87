package batch

import (
	"fmt"

	"github.com/arvimal/osbuild/pkg/config"
	"github.com/arvimal/osbuild/pkg/fetch"
	"github.com/arvimal/osbuild/pkg/secrets"
	"github.com/arvimal/osbuild/pkg/secrets/subscription"
)

// NewFromConfig assembles a coordinator with the configured retrieval agent
// and the built-in secrets providers. Provenance and progress stay unset;
// commands wire those as needed.
func NewFromConfig(cfg config.Config) (*Coordinator, error) {
	var agent fetch.Agent
	switch cfg.Agent {
	case "", "curl":
		agent = fetch.NewCurlAgent(cfg.CurlPath)
	case "native":
		agent = fetch.NewNativeAgent(cfg.Mirrors)
	default:
		return nil, fmt.Errorf("unknown retrieval agent %q", cfg.Agent)
	}
	resolver := secrets.NewResolver(
		subscription.New(cfg.EntitlementDir, cfg.CABundle),
	)
	return &Coordinator{
		Agent:    agent,
		Resolver: resolver,
		Workers:  cfg.Workers,
	}, nil
}
