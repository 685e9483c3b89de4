// Package topology loads and validates the flat topology file that
// describes a victim server, its NAT router, and the attacker's
// position (spec.md §6).
package topology

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/hollowpoint-sec/natattack/internal/packet"
)

// Topology carries the read-only input shared by every attack.
type Topology struct {
	// Interface is the TUN device name to open (default "tun0").
	Interface string
	// Server is the victim's address.
	Server packet.Address
	// Router is the NAT router's IP.
	Router uint32
	// Attacker is the attacker's IP.
	Attacker uint32
	// TTLDrop is stamped on attacker->server packets so they traverse
	// the NAT but expire before reaching the server.
	TTLDrop uint8
	// Name is an optional free-form label used only in log lines; it
	// has no effect on attack semantics.
	Name string
}

const defaultInterface = "tun0"

// Load reads and validates the topology file at path. The file is a
// flat "key = value" properties file; see SPEC_FULL.md §5.4 for the
// exact field set.
func Load(path string) (*Topology, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("topology: read %s: %w", path, err)
	}

	ifaceName := v.GetString("interface")
	if ifaceName == "" {
		ifaceName = defaultInterface
	}

	serverIP, err := field(v, "server.ip", ParseDottedQuad)
	if err != nil {
		return nil, err
	}
	serverPort, err := field(v, "server.port", parsePort)
	if err != nil {
		return nil, err
	}
	ttlDrop, err := field(v, "server.ttl-drop", parseTTL)
	if err != nil {
		return nil, err
	}
	routerIP, err := field(v, "router.ip", ParseDottedQuad)
	if err != nil {
		return nil, err
	}
	attackerIP, err := field(v, "attacker.ip", ParseDottedQuad)
	if err != nil {
		return nil, err
	}

	return &Topology{
		Interface: ifaceName,
		Server:    packet.Address{IP: serverIP, Port: serverPort},
		Router:    routerIP,
		Attacker:  attackerIP,
		TTLDrop:   ttlDrop,
		Name:      v.GetString("name"),
	}, nil
}

func field[T any](v *viper.Viper, key string, parse func(string) (T, error)) (T, error) {
	var zero T
	raw := v.GetString(key)
	if raw == "" {
		return zero, fmt.Errorf("topology: missing required field %q", key)
	}
	val, err := parse(raw)
	if err != nil {
		return zero, fmt.Errorf("topology: field %q: %w", key, err)
	}
	return val, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return uint16(n), nil
}

func parseTTL(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid TTL %q: %w", s, err)
	}
	return uint8(n), nil
}

// ParseDottedQuad parses a strict IPv4 dotted-quad string into the
// packet package's host-numeric-order uint32 representation. It
// rejects non-digit characters, empty octets, octets greater than
// 255, missing separators, and any trailing garbage — spec.md §6's
// exact rejection list.
func ParseDottedQuad(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%q: expected four dot-separated octets, got %d", s, len(parts))
	}
	var ip uint32
	for _, part := range parts {
		octet, err := parseOctet(part)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", s, err)
		}
		ip = ip<<8 | uint32(octet)
	}
	return ip, nil
}

func parseOctet(s string) (uint8, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty octet")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit character %q in octet %q", c, s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n > 255 {
		return 0, fmt.Errorf("octet %q out of range [0,255]", s)
	}
	return uint8(n), nil
}
