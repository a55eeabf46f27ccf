// Package config loads the YAML file shared by the cliffredux binaries.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Client ClientConfig `yaml:"client"`
	Patch  PatchConfig  `yaml:"patch"`
}

type ClientConfig struct {
	USB2SNESURL     string `yaml:"usb2snes_url"`
	Device          string `yaml:"device"`
	ServerURL       string `yaml:"server_url"`
	Slot            string `yaml:"slot"`
	Password        string `yaml:"password"`
	PollIntervalMS  int    `yaml:"poll_interval_ms"`
	DeathCooldownMS int    `yaml:"death_cooldown_ms"`
	DataDir         string `yaml:"data_dir"`
	// Ledger and EventLog are relative to DataDir unless absolute. "-" disables.
	Ledger   string `yaml:"ledger"`
	EventLog string `yaml:"event_log"`
}

type PatchConfig struct {
	BaseROM        string `yaml:"base_rom"`
	Symbols        string `yaml:"symbols"`
	MultiPatch     string `yaml:"multi_patch"`
	SpriteDir      string `yaml:"sprite_dir"`
	StrictChecksum bool   `yaml:"strict_checksum"`
	OutputDir      string `yaml:"output_dir"`
}

const Disabled = "-"

func Defaults() Config {
	return Config{
		Client: ClientConfig{
			USB2SNESURL:     "ws://localhost:23074",
			ServerURL:       "ws://localhost:38281",
			PollIntervalMS:  125,
			DeathCooldownMS: 1000,
			DataDir:         "data",
			Ledger:          "ledger.db",
			EventLog:        "logs",
		},
		Patch: PatchConfig{
			BaseROM:    "base.sfc",
			Symbols:    "data/sm_basepatch/symbols.json",
			MultiPatch: "data/sm_basepatch/multiworld-basepatch.ips",
			SpriteDir:  "data/sm_basepatch",
			OutputDir:  "out",
		},
	}
}

// Load reads path over Defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Normalize fills zero values left by a partial file.
func (c *Config) Normalize() {
	d := Defaults()
	cl := &c.Client
	cl.USB2SNESURL = strings.TrimSpace(cl.USB2SNESURL)
	cl.ServerURL = strings.TrimSpace(cl.ServerURL)
	cl.Slot = strings.TrimSpace(cl.Slot)
	if cl.USB2SNESURL == "" {
		cl.USB2SNESURL = d.Client.USB2SNESURL
	}
	if cl.ServerURL == "" {
		cl.ServerURL = d.Client.ServerURL
	}
	if cl.PollIntervalMS <= 0 {
		cl.PollIntervalMS = d.Client.PollIntervalMS
	}
	if cl.DeathCooldownMS <= 0 {
		cl.DeathCooldownMS = d.Client.DeathCooldownMS
	}
	if cl.DataDir == "" {
		cl.DataDir = d.Client.DataDir
	}
	if cl.Ledger == "" {
		cl.Ledger = d.Client.Ledger
	}
	if cl.EventLog == "" {
		cl.EventLog = d.Client.EventLog
	}
	if c.Patch.OutputDir == "" {
		c.Patch.OutputDir = d.Patch.OutputDir
	}
}

func (c Config) Validate() error {
	var errs []error
	for name, raw := range map[string]string{"usb2snes_url": c.Client.USB2SNESURL, "server_url": c.Client.ServerURL} {
		u, err := url.Parse(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("client.%s: %w", name, err))
			continue
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("client.%s: scheme must be ws or wss, got %q", name, u.Scheme))
		}
	}
	if c.Client.PollIntervalMS < 10 || c.Client.PollIntervalMS > 10_000 {
		errs = append(errs, fmt.Errorf("client.poll_interval_ms: %d out of range [10,10000]", c.Client.PollIntervalMS))
	}
	return errors.Join(errs...)
}

func (c ClientConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c ClientConfig) DeathCooldown() time.Duration {
	return time.Duration(c.DeathCooldownMS) * time.Millisecond
}

// LedgerPath returns the resolved ledger file, or "" when disabled.
func (c ClientConfig) LedgerPath() string { return c.resolve(c.Ledger) }

// EventLogDir returns the resolved event log directory, or "" when disabled.
func (c ClientConfig) EventLogDir() string { return c.resolve(c.EventLog) }

func (c ClientConfig) resolve(p string) string {
	if p == "" || p == Disabled {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
