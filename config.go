package go5250

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ecmumford/go5250/stream"
	"github.com/ecmumford/go5250/telnet/telopts"
)

// TLSConfig controls transport encryption. Hosts conventionally listen
// on 23 for plain telnet and 992 for TLS.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`
	// ServerName overrides the certificate hostname check; it defaults
	// to the configured host.
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Config describes one host connection. The zero value is not usable;
// pass it through withDefaults or load it with LoadConfig.
type Config struct {
	Host string    `yaml:"host"`
	Port int       `yaml:"port"`
	TLS  TLSConfig `yaml:"tls"`

	// CodePage selects the host EBCDIC table, by CCSID number or alias
	// ("37", "cp037", "1140", ...).
	CodePage string `yaml:"code_page"`

	// Rows and Cols fix the display geometry for the whole session.
	// Only the two standard models exist: 24x80 and 27x132.
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`

	// DeviceName is sent to the host during negotiation so the session
	// gets a predictable virtual device instead of an auto-generated
	// one. Optional.
	DeviceName string `yaml:"device_name"`

	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`

	// InputOverflow decides what happens when typed text exceeds the
	// destination field: "truncate" (default) or "error".
	InputOverflow string `yaml:"input_overflow"`
}

// LoadConfig reads a YAML session configuration, applies defaults and
// validates it.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		if c.TLS.Enabled {
			c.Port = 992
		} else {
			c.Port = 23
		}
	}
	if c.CodePage == "" {
		c.CodePage = "37"
	}
	if c.Rows == 0 && c.Cols == 0 {
		c.Rows, c.Cols = 24, 80
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.NegotiationTimeout == 0 {
		c.NegotiationTimeout = 10 * time.Second
	}
	if c.InputOverflow == "" {
		c.InputOverflow = "truncate"
	}
	return c
}

func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if !(c.Rows == 24 && c.Cols == 80) && !(c.Rows == 27 && c.Cols == 132) {
		return fmt.Errorf("config: unsupported display geometry %dx%d", c.Rows, c.Cols)
	}
	if _, err := c.overflowPolicy(); err != nil {
		return err
	}
	return nil
}

func (c Config) overflowPolicy() (stream.OverflowPolicy, error) {
	switch c.InputOverflow {
	case "truncate":
		return stream.OverflowTruncate, nil
	case "error":
		return stream.OverflowError, nil
	default:
		return 0, fmt.Errorf("config: unknown input_overflow %q", c.InputOverflow)
	}
}

func (c Config) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) terminalTypes() []string {
	if c.Cols == 132 {
		return []string{telopts.TerminalType27x132, telopts.TerminalType24x80}
	}
	return []string{telopts.TerminalType24x80}
}

func (c Config) environmentVars() map[string]string {
	vars := map[string]string{
		"CODEPAGE": c.CodePage,
	}
	if c.DeviceName != "" {
		vars["DEVNAME"] = c.DeviceName
	}
	return vars
}
