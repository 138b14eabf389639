package engine

import (
	"fmt"
	"io"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// BrowserClient wraps tls-client with a Chrome TLS fingerprint. The scrape
// adapter fetches result pages through it so requests survive JA3-based
// filtering that rejects the default Go TLS stack.
type BrowserClient struct {
	client tls_client.HttpClient
}

// NewBrowserClient creates a client that impersonates Chrome 131.
func NewBrowserClient(timeoutSeconds int) (*BrowserClient, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}
	jar := tls_client.NewCookieJar()
	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(timeoutSeconds),
		tls_client.WithClientProfile(profiles.Chrome_131),
		tls_client.WithCookieJar(jar),
	}
	client, err := tls_client.NewHttpClient(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("tls-client init: %w", err)
	}
	return &BrowserClient{client: client}, nil
}

// Get fetches url with the given headers and returns body bytes and status.
func (bc *BrowserClient) Get(url string, headers map[string]string) ([]byte, int, error) {
	req, err := fhttp.NewRequest(fhttp.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	// Chrome-like header order matters for fingerprinting.
	req.Header[fhttp.HeaderOrderKey] = []string{
		"accept",
		"accept-language",
		"accept-encoding",
		"referer",
		"cookie",
		"user-agent",
	}

	resp, err := bc.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("tls request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return data, resp.StatusCode, nil
}
