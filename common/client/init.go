package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/Laisky/zap"

	"github.com/xiaoY233/chat2api/common/config"
	"github.com/xiaoY233/chat2api/common/logger"
)

// HTTPClient is the default outbound client used for vendor chat calls.
var HTTPClient *http.Client

// ImpatientHTTPClient is a short-timeout client for auxiliary vendor RPCs:
// token refresh, session create/delete, PoW challenge, device register, probes.
var ImpatientHTTPClient *http.Client

// Init builds the shared HTTP clients with proxy and timeout settings derived
// from configuration.
func Init() {
	// HTTP/2 is disabled: several vendors' WAFs reset h2 streams mid-response
	// while behaving on HTTP/1.1.
	createTransport := func(proxyURL *url.URL) *http.Transport {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		transport := &http.Transport{
			DialContext:  dialer.DialContext,
			TLSNextProto: make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
		}
		if proxyURL != nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		return transport
	}

	var transport http.RoundTripper
	if config.RelayProxy != "" {
		logger.Logger.Info("using relay proxy for vendor calls", zap.String("proxy", config.RelayProxy))
		proxyURL, err := url.Parse(config.RelayProxy)
		if err != nil {
			logger.Logger.Fatal(fmt.Sprintf("RELAY_PROXY set but invalid: %s", config.RelayProxy))
		}
		transport = createTransport(proxyURL)
	} else {
		transport = createTransport(nil)
	}

	HTTPClient = &http.Client{
		Timeout:   config.RelayTimeout,
		Transport: transport,
	}

	ImpatientHTTPClient = &http.Client{
		Timeout:   config.AuxiliaryTimeout,
		Transport: transport,
	}
}
