package app

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Endpoint is the last known running endpoint of the application server:
// always a loopback URL, plus a LAN-reachable URL when the server bound
// all interfaces.
type Endpoint struct {
	Loopback string `json:"loopback"`
	LAN      string `json:"lan,omitempty"`
}

// NormalizeEndpoint turns the URL announced in the readiness signal into
// reachable URLs. An all-interfaces bind (0.0.0.0 or ::) is rewritten to
// loopback, with a LAN URL substituting lanAddr when provided.
func NormalizeEndpoint(raw, lanAddr string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("unparseable endpoint %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("incomplete endpoint %q", raw)
	}

	host := u.Hostname()
	if host != "0.0.0.0" && host != "::" {
		return Endpoint{Loopback: u.String()}, nil
	}

	port := u.Port()
	loop := *u
	loop.Host = joinHostPort("127.0.0.1", port)

	ep := Endpoint{Loopback: loop.String()}
	if lanAddr != "" {
		lan := *u
		lan.Host = joinHostPort(lanAddr, port)
		ep.LAN = lan.String()
	}
	return ep, nil
}

func joinHostPort(host, port string) string {
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}

// primaryAddress discovers the host's primary outbound IPv4 address. The
// UDP dial never sends a packet; it only selects a route.
func primaryAddress() string {
	conn, err := net.Dial("udp4", "203.0.113.1:9")
	if err != nil {
		return ""
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
