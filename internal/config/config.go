// Package config loads the gateway's static configuration: a YAML file
// on disk (the §6 table: prefixes, RA period, network key, unsolicited
// destination, serial device, store path) with every field overridable
// by an environment variable of the same name.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-envparse"
	"gopkg.in/yaml.v3"
)

// Config is the gateway's full runtime configuration, corresponding to
// the §6 "Configuration" table plus the ambient knobs (serial device,
// persistent store path, listen addresses) SPEC_FULL.md §A.3 adds.
type Config struct {
	// Serial link
	SerialDevice string `yaml:"serial_device"`
	SerialBaud   uint   `yaml:"serial_baud"`

	// §6 table
	PIOPrefix       string        `yaml:"pio_prefix"`
	RIOPrefix       string        `yaml:"rio_prefix"`
	RAPeriod        time.Duration `yaml:"-"` // read from ra_period_ms (milliseconds) by Load
	NetworkKeyHex   string        `yaml:"network_key"`
	UnsolicitedDest string        `yaml:"unsolicited_dest"`

	// Ambient
	StorePath     string `yaml:"store_path"`
	ListenUDPPort int    `yaml:"listen_udp_port"`
	MetricsAddr   string `yaml:"metrics_addr"`
	LogLevel      string `yaml:"log_level"`
}

// Default returns the documented defaults from spec.md §6.
func Default() Config {
	return Config{
		SerialBaud:      115200,
		PIOPrefix:       "fd00:bbbb::/64",
		RIOPrefix:       "fd00:bbbb:1::/64",
		RAPeriod:        60 * time.Second,
		StorePath:       "zwipgw.db",
		ListenUDPPort:   4123,
		MetricsAddr:     ":9191",
		LogLevel:        "info",
		NetworkKeyHex:   "",
		UnsolicitedDest: "",
	}
}

// Load reads a YAML file at path (if it exists) layered on Default(),
// then applies matching variables from the process environment and from
// an optional .env file at envFile (may be empty); when both set a key,
// the process environment wins.
func Load(path string, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
			}
			var raw struct {
				RAPeriodMs *uint64 `yaml:"ra_period_ms"`
			}
			if err := yaml.Unmarshal(b, &raw); err != nil {
				return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
			}
			if raw.RAPeriodMs != nil {
				cfg.RAPeriod = time.Duration(*raw.RAPeriodMs) * time.Millisecond
			}
		}
	}

	env := map[string]string{}
	if envFile != "" {
		f, err := os.Open(envFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: opening %s: %w", envFile, err)
			}
		} else {
			defer f.Close()
			parsed, err := envparse.Parse(f)
			if err != nil {
				return cfg, fmt.Errorf("config: parsing %s: %w", envFile, err)
			}
			env = parsed
		}
	}
	applyEnvOverrides(&cfg, env)

	return cfg, cfg.Validate()
}

// applyEnvOverrides mutates cfg in place for every recognised key present
// either in the process environment or in the parsed .env map (process
// environment wins on conflict).
func applyEnvOverrides(cfg *Config, fileEnv map[string]string) {
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}

	if v, ok := lookup("SERIAL_DEVICE"); ok {
		cfg.SerialDevice = v
	}
	if v, ok := lookup("SERIAL_BAUD"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.SerialBaud = uint(n)
		}
	}
	if v, ok := lookup("PIO_PREFIX"); ok {
		cfg.PIOPrefix = v
	}
	if v, ok := lookup("RIO_PREFIX"); ok {
		cfg.RIOPrefix = v
	}
	if v, ok := lookup("RA_PERIOD_MS"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.RAPeriod = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := lookup("NETWORK_KEY"); ok {
		cfg.NetworkKeyHex = v
	}
	if v, ok := lookup("UNSOLICITED_DEST"); ok {
		cfg.UnsolicitedDest = v
	}
	if v, ok := lookup("STORE_PATH"); ok {
		cfg.StorePath = v
	}
	if v, ok := lookup("LISTEN_UDP_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ListenUDPPort = n
		}
	}
	if v, ok := lookup("METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}

// Validate rejects configurations that would otherwise fail deep inside
// a subsystem constructor with a less legible error.
func (c Config) Validate() error {
	if c.SerialDevice == "" {
		return fmt.Errorf("config: serial_device is required")
	}
	if _, _, err := net.ParseCIDR(c.PIOPrefix); err != nil {
		return fmt.Errorf("config: pio_prefix: %w", err)
	}
	if _, _, err := net.ParseCIDR(c.RIOPrefix); err != nil {
		return fmt.Errorf("config: rio_prefix: %w", err)
	}
	if c.NetworkKeyHex != "" {
		if len(strings.TrimPrefix(c.NetworkKeyHex, "0x")) != 32 {
			return fmt.Errorf("config: network_key must be 16 bytes (32 hex chars)")
		}
	}
	return nil
}

// NetworkKey decodes NetworkKeyHex into the 16-byte S0 network key.
func (c Config) NetworkKey() ([16]byte, error) {
	var key [16]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(c.NetworkKeyHex, "0x"))
	if err != nil {
		return key, fmt.Errorf("config: network_key: %w", err)
	}
	if len(raw) != 16 {
		return key, fmt.Errorf("config: network_key must decode to 16 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
