// Package proxy implements the Proxy record: a value object describing
// one candidate proxy, its lazily built tunnel connector, and the
// single-request fetch function that collapses every transport-level
// failure into one signal.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Proxy is an immutable value object describing one candidate forward
// proxy. Identity is Host:Port. A Proxy owns a lazily-created Connector;
// Connector() is safe for concurrent use and only ever builds one
// *http.Client per Proxy no matter how many goroutines call it.
type Proxy struct {
	Host    string
	Port    uint16
	Country string
	Source  string

	once sync.Once
	conn *Connector
}

// Addr returns the host:port identity of the proxy.
func (p *Proxy) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Connector returns the lazily-built HTTP client that tunnels requests
// through this proxy.
func (p *Proxy) Connector() *Connector {
	p.once.Do(func() {
		p.conn = newConnector(p.Addr())
	})
	return p.conn
}

// Connector is an HTTP client configured to route every request through
// one proxy address.
type Connector struct {
	client *http.Client
}

func newConnector(addr string) *Connector {
	proxyURL := &url.URL{Scheme: "http", Host: addr}
	return &Connector{
		client: &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		},
	}
}

// Result is the outcome of one successful (transport-wise) HTTP request.
// A non-2xx StatusCode is still a Result; only transport failure is
// reported as ok=false, never an application-level status.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FetchOne issues one HTTP request through connector (or directly, if
// connector is nil) with an overall wall-clock timeout, and classifies the
// outcome. Connection refusal, tunnel failure, timeout, framing and body
// decode errors all collapse to ok=false: the caller cannot and should
// not distinguish among them, since only transport failure implicates
// the proxy.
func FetchOne(ctx context.Context, method, target string, timeout time.Duration, connector *Connector) (*Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("User-Agent", UserAgent())

	client := http.DefaultClient
	if connector != nil {
		client = connector.client
	}

	resp, err := client.Do(req)
	if err != nil || resp == nil {
		return nil, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}

	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, true
}
