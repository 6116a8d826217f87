// Package subscription resolves Red Hat subscription-manager entitlement
// credentials: key/certificate pairs dropped by subscription-manager into a
// well-known directory.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arvimal/osbuild/pkg/secrets"
)

// ID is the provider name locators use to request entitlement credentials.
const ID = "org.osbuild.rhsm"

// ErrNoCredentials is returned when the entitlement directory holds no
// complete key/certificate pair.
var ErrNoCredentials = errors.New("no matching key/certificate pair found")

type Provider struct {
	// Dir is the entitlement directory, normally /etc/pki/entitlement.
	Dir string
	// CABundle is handed out unchanged with every resolved pair.
	CABundle string
}

func New(dir, caBundle string) *Provider {
	return &Provider{Dir: dir, CABundle: caBundle}
}

func (p *Provider) ID() string { return ID }

// Resolve scans the entitlement directory for "<id>-key.pem" files and pairs
// each with its sibling "<id>.pem" certificate. The first complete pair (in
// lexical order, for determinism) wins.
func (p *Provider) Resolve(ctx context.Context) (*secrets.Bundle, error) {
	keys, err := filepath.Glob(filepath.Join(p.Dir, "*-key.pem"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.Dir, err)
	}
	sort.Strings(keys)

	for _, key := range keys {
		cert := strings.TrimSuffix(key, "-key.pem") + ".pem"
		if _, err := os.Stat(cert); err != nil {
			slog.Debug("entitlement key without certificate", "key", key)
			continue
		}
		slog.Debug("resolved entitlement pair", "key", key, "cert", cert)
		return &secrets.Bundle{
			CACert:     p.CABundle,
			ClientCert: cert,
			ClientKey:  key,
		}, nil
	}
	return nil, fmt.Errorf("%w in %s", ErrNoCredentials, p.Dir)
}
