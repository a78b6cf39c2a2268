// Package config holds the bridge settings and their TOML file form.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// DefaultPort is the UDP discovery and TCP command port of the gateway.
const DefaultPort = 56747

// DefaultGroup is the default probe destination when no gateway address is
// configured: limited broadcast reaches units on any local subnet layout.
var DefaultGroup = netip.AddrFrom4([4]byte{255, 255, 255, 255})

var (
	ErrLocalIdentityMissing = errors.New("config: local identity missing")
	ErrRemotePairIncomplete = errors.New("config: remote address and remote identity must be set together")
	ErrPortOutOfRange       = errors.New("config: port out of range")
)

// Settings describes one bridge instance: the local identity it registers
// with, the gateway it talks to once known, and the discovery parameters.
// RemoteID and RemoteAddr are either both set (pre-configured or discovered)
// or both zero.
type Settings struct {
	LocalID    uuid.UUID
	RemoteID   uuid.UUID
	RemoteAddr netip.Addr
	Port       int
	Group      netip.Addr
	Verbose    bool
	Debug      bool
}

// Default returns settings for an undiscovered gateway. LocalID is left
// zero; callers generate or load one before constructing a bridge.
func Default() Settings {
	return Settings{
		Port:  DefaultPort,
		Group: DefaultGroup,
	}
}

func (s Settings) Validate() error {
	if s.LocalID == (uuid.UUID{}) {
		return ErrLocalIdentityMissing
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrPortOutOfRange, s.Port)
	}
	hasID := s.RemoteID != (uuid.UUID{})
	if hasID != s.RemoteAddr.IsValid() {
		return ErrRemotePairIncomplete
	}
	return nil
}

// Discovered reports whether the remote pair is already known.
func (s Settings) Discovered() bool {
	return s.RemoteID != (uuid.UUID{}) && s.RemoteAddr.IsValid()
}

type fileSettings struct {
	LocalUUID  string `toml:"local_uuid"`
	RemoteUUID string `toml:"comfoair_uuid"`
	RemoteIP   string `toml:"comfoair_ip"`
	Port       int    `toml:"port"`
	Multicast  string `toml:"multicast"`
	Verbose    bool   `toml:"verbose"`
	Debug      bool   `toml:"debug"`
}

// Load reads settings from a TOML file, applying defaults for absent keys.
func Load(path string) (Settings, error) {
	cfg := Default()

	var raw fileSettings
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, fmt.Errorf("config load (%s): %w", path, err)
	}

	if meta.IsDefined("local_uuid") {
		id, err := uuid.Parse(strings.TrimSpace(raw.LocalUUID))
		if err != nil {
			return Settings{}, fmt.Errorf("config parse local_uuid: %w", err)
		}
		cfg.LocalID = id
	}
	if meta.IsDefined("comfoair_uuid") {
		id, err := uuid.Parse(strings.TrimSpace(raw.RemoteUUID))
		if err != nil {
			return Settings{}, fmt.Errorf("config parse comfoair_uuid: %w", err)
		}
		cfg.RemoteID = id
	}
	if meta.IsDefined("comfoair_ip") {
		addr, err := netip.ParseAddr(strings.TrimSpace(raw.RemoteIP))
		if err != nil {
			return Settings{}, fmt.Errorf("config parse comfoair_ip: %w", err)
		}
		cfg.RemoteAddr = addr
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("multicast") {
		addr, err := netip.ParseAddr(strings.TrimSpace(raw.Multicast))
		if err != nil {
			return Settings{}, fmt.Errorf("config parse multicast: %w", err)
		}
		cfg.Group = addr
	}
	cfg.Verbose = raw.Verbose
	cfg.Debug = raw.Debug

	return cfg, nil
}
