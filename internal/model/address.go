package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// HostAddress identifies a seed or a ring endpoint
type HostAddress struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// String renders host:port, bracketing IPv6 literals
func (a HostAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is unset
func (a HostAddress) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// ParseHostAddress parses a seed token. A port embedded in the token
// ("host:port" or "[v6]:port") takes precedence over defaultPort.
func ParseHostAddress(token string, defaultPort int) (HostAddress, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return HostAddress{}, fmt.Errorf("empty host address")
	}

	host, port := token, defaultPort
	if hasPort(token) {
		h, p, err := net.SplitHostPort(token)
		if err != nil {
			return HostAddress{}, fmt.Errorf("invalid host address %q: %w", token, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return HostAddress{}, fmt.Errorf("invalid port in %q: %w", token, err)
		}
		host, port = h, n
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}

	if host == "" {
		return HostAddress{}, fmt.Errorf("invalid host address %q: missing host", token)
	}
	if port < 1 || port > 65535 {
		return HostAddress{}, fmt.Errorf("invalid host address %q: port %d out of range", token, port)
	}

	return HostAddress{Host: host, Port: port}, nil
}

// hasPort distinguishes "host:port" and "[v6]:port" from bare hosts,
// including unbracketed IPv6 literals.
func hasPort(token string) bool {
	if strings.HasPrefix(token, "[") {
		return strings.Contains(token, "]:")
	}
	return strings.Count(token, ":") == 1
}
