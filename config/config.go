// Package config maps caller-supplied raw settings into the connection
// configuration the pool's connection factory expects.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config constants.
const (
	// DefaultPort is the standard FTP control port.
	DefaultPort = 21
	// DefaultTimeout is the default connect/transfer timeout.
	DefaultTimeout = 30 * time.Second
	// maxPort is the highest valid TCP port.
	maxPort = 65535
)

// Raw is a caller-supplied settings object for one remote target, as an
// editor or sync frontend would hand it over.
type Raw map[string]any

// Duration is a time.Duration that decodes from either a duration
// string ("30s") or a bare number of seconds, the two forms settings
// files use in the wild.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, parseErr := time.ParseDuration(s)
		if parseErr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, parseErr)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Connection describes one remote endpoint.
type Connection struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Path     string   `yaml:"path"`
	Passive  bool     `yaml:"passive"`
	TLS      bool     `yaml:"tls"`
	Timeout  Duration `yaml:"timeout"`

	// ConnectionLimit is the remote server's session cap, if known.
	// Zero means unknown.
	ConnectionLimit int `yaml:"connection_limit"`
}

// Load builds a Connection from raw settings, applying defaults and
// validating the result.
func Load(raw Raw) (*Connection, error) {
	if raw == nil {
		return nil, fmt.Errorf("no settings provided")
	}

	conn := defaults()
	if err := decode(raw, conn); err != nil {
		return nil, err
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	return conn, nil
}

// ParseYAML builds a Connection from YAML settings, applying the same
// defaults and validation as Load.
func ParseYAML(data []byte) (*Connection, error) {
	conn := defaults()
	if err := yaml.Unmarshal(data, conn); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	return conn, nil
}

// Validate checks that the connection config is usable.
func (c *Connection) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 1 || c.Port > maxPort {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.ConnectionLimit < 0 {
		return fmt.Errorf("connection limit must not be negative")
	}
	return nil
}

// Addr returns the dial address for the connection.
func (c *Connection) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaults() *Connection {
	return &Connection{
		Port:    DefaultPort,
		Timeout: Duration(DefaultTimeout),
		Passive: true,
	}
}

// decode round-trips the raw map through YAML so string keys land in
// the struct with the same names and types a settings file would use.
func decode(raw Raw, conn *Connection) error {
	data, err := yaml.Marshal(map[string]any(raw))
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := yaml.Unmarshal(data, conn); err != nil {
		return fmt.Errorf("decoding settings: %w", err)
	}
	return nil
}
