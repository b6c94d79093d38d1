// Package discovery finds the control-plane gateway on the local network
// via mDNS. It is the fallback when no gateway URL is configured.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters for the gateway.
const (
	ServiceType = "_opsgw._tcp"
	Domain      = "local."

	// DefaultPath is the websocket path used when the TXT record does not
	// carry a path override.
	DefaultPath = "/ws"
)

// DefaultTimeout bounds Discover when the caller passes no timeout.
const DefaultTimeout = 10 * time.Second

// ErrNoGateway indicates browsing finished without finding a gateway.
var ErrNoGateway = errors.New("no gateway found")

// Discover browses for a gateway and returns the websocket URL of the
// first usable instance. It returns ErrNoGateway when the timeout expires
// without a result.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	for {
		select {
		case entry := <-entries:
			if entry == nil {
				continue
			}
			if url, ok := entryURL(entry); ok {
				return url, nil
			}
		case <-removed:
			// Departures are irrelevant for one-shot discovery.
		case err := <-browseErr:
			if err != nil {
				return "", fmt.Errorf("mdns browse failed: %w", err)
			}
			return "", ErrNoGateway
		case <-ctx.Done():
			return "", ErrNoGateway
		}
	}
}

// entryURL converts a browse result into a websocket URL. Entries without
// a usable address or port are skipped.
func entryURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry.Port == 0 {
		return "", false
	}

	host := pickHost(entry)
	if host == "" {
		return "", false
	}
	return BuildURL(host, entry.Port, entry.Text), true
}

// pickHost prefers an IPv4 address, then IPv6, then the advertised
// hostname.
func pickHost(entry *zeroconf.ServiceEntry) string {
	if len(entry.AddrIPv4) > 0 {
		return entry.AddrIPv4[0].String()
	}
	if len(entry.AddrIPv6) > 0 {
		return entry.AddrIPv6[0].String()
	}
	return strings.TrimSuffix(entry.HostName, ".")
}

// BuildURL assembles the ws:// URL for a discovered gateway. A TXT record
// of the form path=/x overrides the default websocket path.
func BuildURL(host string, port int, txt []string) string {
	path := DefaultPath
	for _, record := range txt {
		if v, ok := strings.CutPrefix(record, "path="); ok && v != "" {
			path = v
			break
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("ws://%s:%d%s", host, port, path)
}
