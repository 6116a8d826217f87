package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/lucasew/fetchurl"
)

// NativeAgent downloads in-process. It exists as the library-native
// substitute for the curl subprocess; hash verification happens inside
// fetchurl as well, but the fetcher still re-verifies the file on disk.
type NativeAgent struct {
	// Mirrors are fallback servers tried after the primary URL.
	Mirrors []string
}

func NewNativeAgent(mirrors []string) *NativeAgent {
	return &NativeAgent{Mirrors: mirrors}
}

func (a *NativeAgent) Retrieve(ctx context.Context, t Transfer) error {
	client, err := httpClient(t)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(t.Dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	fetcher := fetchurl.NewFetcher(client)
	fetcher.Servers = append(fetcher.Servers, a.Mirrors...)
	err = fetcher.Fetch(ctx, fetchurl.FetchOptions{
		URLs: []string{t.URL},
		Algo: t.Digest.Algorithm,
		Hash: t.Digest.Hex,
		Out:  out,
	})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", t.URL, err)
	}
	return out.Close()
}

func httpClient(t Transfer) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: t.ConnectTimeout}).DialContext,
	}
	if t.Secrets != nil {
		tlsConfig := &tls.Config{}
		if t.Secrets.CACert != "" {
			pem, err := os.ReadFile(t.Secrets.CACert)
			if err != nil {
				return nil, fmt.Errorf("read CA bundle: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates in CA bundle %s", t.Secrets.CACert)
			}
			tlsConfig.RootCAs = pool
		}
		if t.Secrets.ClientCert != "" && t.Secrets.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(t.Secrets.ClientCert, t.Secrets.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &http.Client{
		Transport: transport,
		Timeout:   t.Timeout,
	}, nil
}
