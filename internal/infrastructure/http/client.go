package http

import (
	"fmt"
	"net/http"
	"time"
)

const defaultClientTimeout = 30 * time.Second

// maxRedirects matches net/http's own limit.
const maxRedirects = 10

// ClientConfig holds configuration for outbound HTTP clients.
type ClientConfig struct {
	Timeout   time.Duration
	Transport http.RoundTripper
	// CheckRedirect replaces SameHostRedirects.
	CheckRedirect func(req *http.Request, via []*http.Request) error
}

// NewClient creates an outbound client. A nil config means a 30s timeout.
// Redirects that leave the original host are refused unless CheckRedirect
// says otherwise, so bearer tokens for the tax authority stay on its host.
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = &ClientConfig{}
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	client := &http.Client{
		Timeout:       timeout,
		Transport:     config.Transport,
		CheckRedirect: SameHostRedirects,
	}
	if config.CheckRedirect != nil {
		client.CheckRedirect = config.CheckRedirect
	}
	return client
}

// SameHostRedirects follows redirects only while they stay on the host of
// the first request.
func SameHostRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if len(via) > 0 && req.URL.Host != via[0].URL.Host {
		return fmt.Errorf("refusing redirect from %s to %s", via[0].URL.Host, req.URL.Host)
	}
	return nil
}
