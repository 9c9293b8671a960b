package transport

import (
	"fmt"
	"strings"
)

const (
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
)

// Credentials are HTTP Basic Auth credentials.
type Credentials struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// NoAuth disables authentication when set as a node's Auth, regardless of
// the connection's credentials.
var NoAuth = &Credentials{}

func (c *Credentials) disabled() bool {
	return c != nil && c.Username == "" && c.Password == ""
}

func (c *Credentials) validate(owner string) error {
	if c == nil || c.disabled() {
		return nil
	}
	if c.Username == "" {
		return &ConfigError{Reason: owner + ": username is required to use authentication"}
	}
	if c.Password == "" {
		return &ConfigError{Reason: owner + ": password is required to use authentication"}
	}
	return nil
}

// Node is a cluster endpoint.
type Node struct {
	// Address is host:port. The legacy inet[/host:port] and inet[name/host:port]
	// forms and a scheme://host:port prefix are accepted.
	Address string `koanf:"address"`
	// Protocol is http or https. Empty inherits the connection default.
	Protocol string `koanf:"protocol"`
	// Auth overrides the connection credentials for this node. A non-nil
	// value with both halves empty (NoAuth) disables authentication.
	Auth *Credentials `koanf:"auth"`
}

// Host returns the normalized host:port of the node.
func (n Node) Host() string {
	_, host := splitAddress(n.Address)
	return host
}

// BaseURL returns protocol://host:port.
func (n Node) BaseURL() string {
	return n.Protocol + "://" + n.Host()
}

// normalize fills the protocol from an address scheme or the default and
// validates it.
func (n Node) normalize(defaultProtocol string) (Node, error) {
	scheme, host := splitAddress(n.Address)
	if host == "" {
		return n, &ConfigError{Reason: "node needs an address"}
	}
	switch {
	case n.Protocol != "":
	case scheme != "":
		n.Protocol = scheme
	default:
		n.Protocol = defaultProtocol
	}
	n.Protocol = strings.ToLower(n.Protocol)
	if n.Protocol != ProtocolHTTP && n.Protocol != ProtocolHTTPS {
		return n, &ConfigError{Reason: fmt.Sprintf("node %s: protocol must be http or https, got %q", host, n.Protocol)}
	}
	if err := n.Auth.validate("node " + host); err != nil {
		return n, err
	}
	n.Address = host
	return n, nil
}

// splitAddress strips an optional scheme and the inet[...] wrapper.
func splitAddress(addr string) (scheme, host string) {
	addr = strings.TrimSpace(addr)
	if i := strings.Index(addr, "://"); i >= 0 {
		scheme, addr = strings.ToLower(addr[:i]), addr[i+3:]
	}
	if strings.HasPrefix(addr, "inet[") && strings.HasSuffix(addr, "]") {
		addr = addr[len("inet[") : len(addr)-1]
	}
	// hostname/ip:port as published by newer engines
	if i := strings.LastIndex(addr, "/"); i >= 0 {
		rest := addr[i+1:]
		if rest == "" {
			addr = addr[:i]
		} else {
			addr = rest
		}
	}
	return scheme, addr
}
