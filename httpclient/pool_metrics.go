package httpclient

import (
	"net/http"
	"time"
)

// PoolStats is a snapshot of the connection pool settings of the default
// transport.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithTransportConfig(httpclient.HighThroughputTransportConfig()),
//	)
//	stats := client.PoolStats()
//	fmt.Printf("max conns per host: %d\n", stats.MaxConnsPerHost)
type PoolStats struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
}

// PoolStats returns the pool settings of the underlying *http.Transport.
// It is empty when the client was given a transport that does not unwrap
// to one (WithTransport).
func (c *Client) PoolStats() PoolStats {
	transport := unwrapTransport(c.transport)
	if transport == nil {
		return PoolStats{}
	}
	return PoolStats{
		MaxIdleConns:        transport.MaxIdleConns,
		MaxIdleConnsPerHost: transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     transport.MaxConnsPerHost,
		IdleConnTimeout:     transport.IdleConnTimeout,
		DisableKeepAlives:   transport.DisableKeepAlives,
	}
}

// unwrapTransport walks the decorator chain down to the *http.Transport.
func unwrapTransport(rt http.RoundTripper) *http.Transport {
	for rt != nil {
		switch t := rt.(type) {
		case *http.Transport:
			return t
		case interface{ Unwrap() http.RoundTripper }:
			rt = t.Unwrap()
		default:
			return nil
		}
	}
	return nil
}
