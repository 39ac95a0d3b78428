package go5250

import (
	"context"
	"crypto/tls"
	"net"
)

// dialHost opens the raw transport, wrapping it in a TLS client
// handshake when configured. The connect timeout covers the TCP dial
// and the TLS handshake together.
func dialHost(ctx context.Context, cfg Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	if !cfg.TLS.Enabled {
		return dialer.DialContext(ctx, "tcp", cfg.address())
	}

	serverName := cfg.TLS.ServerName
	if serverName == "" {
		serverName = cfg.Host
	}

	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config: &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		},
	}

	return tlsDialer.DialContext(ctx, "tcp", cfg.address())
}
