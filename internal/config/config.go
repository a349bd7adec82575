// Package config loads the static, per-process configuration used to boot a
// peer: its own uid, the peer directory, and the protocol's tunable
// durations. It is the one place a YAML file touches the rest of the tree.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Peer is one entry in the static peer directory: a uid and the UDP address
// it listens on.
type Peer struct {
	UID     string `yaml:"uid"`
	Address string `yaml:"address"`
}

// Conf holds everything a peer needs to boot, loaded from a single YAML file
// (spec.md §6's "static peer-address configuration", carried as an ambient
// concern regardless of that text scoping the *design* of it out).
type Conf struct {
	UID       string `yaml:"uid"`
	StatePath string `yaml:"state_path"`
	Master    bool   `yaml:"master"`
	Peers     []Peer `yaml:"peers"`

	SyncDelay           time.Duration `yaml:"sync_delay"`
	BackoffInitial      time.Duration `yaml:"backoff_initial"`
	BackoffCap          time.Duration `yaml:"backoff_cap"`
	DriveSilenceTimeout time.Duration `yaml:"drive_silence_timeout"`
	RetransmitInterval  time.Duration `yaml:"retransmit_interval"`
	LeaseWindow         time.Duration `yaml:"lease_window"`
}

// LoadFile reads and parses a YAML config file, then fills in any tunables
// left unset with the production defaults from spec.md §4's design notes.
func LoadFile(path string) (Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Conf{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Conf
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Conf{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	c.fillDefaults()

	if err := c.validate(); err != nil {
		return Conf{}, err
	}

	return c, nil
}

// fillDefaults fills in the tunables the Resolution Driver, Synchronization,
// and Master-Lease layers use when the config file leaves them at zero.
func (c *Conf) fillDefaults() {
	if c.SyncDelay == 0 {
		c.SyncDelay = 10 * time.Second
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = 5 * time.Millisecond
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 2000 * time.Millisecond
	}
	if c.DriveSilenceTimeout == 0 {
		c.DriveSilenceTimeout = 3000 * time.Millisecond
	}
	if c.RetransmitInterval == 0 {
		c.RetransmitInterval = 1 * time.Second
	}
	if c.LeaseWindow == 0 {
		c.LeaseWindow = 10 * time.Second
	}
	if c.StatePath == "" {
		c.StatePath = c.UID + ".state.json"
	}
}

func (c *Conf) validate() error {
	if c.UID == "" {
		return fmt.Errorf("config: uid is required")
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("config: peers list must not be empty")
	}

	seen := make(map[string]bool, len(c.Peers))
	found := false
	for _, p := range c.Peers {
		if p.UID == "" || p.Address == "" {
			return fmt.Errorf("config: peer entries require both uid and address")
		}
		if seen[p.UID] {
			return fmt.Errorf("config: duplicate peer uid %q", p.UID)
		}
		seen[p.UID] = true
		if p.UID == c.UID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("config: this peer's uid %q is not present in peers", c.UID)
	}
	return nil
}

// PeerUIDs returns every peer uid other than this peer's own, in the order
// listed in the config file.
func (c Conf) PeerUIDs() []string {
	out := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		if p.UID != c.UID {
			out = append(out, p.UID)
		}
	}
	return out
}

// QuorumSize returns floor(N/2)+1 for the full peer membership, including
// this peer itself.
func (c Conf) QuorumSize() int {
	return len(c.Peers)/2 + 1
}

// AddressOf returns the UDP address a given peer uid listens on.
func (c Conf) AddressOf(uid string) (string, bool) {
	for _, p := range c.Peers {
		if p.UID == uid {
			return p.Address, true
		}
	}
	return "", false
}

// LoadPeerDirectory reads just the peer directory out of a config file, for
// callers (the paxosctl client) that address a peer by uid but have no uid
// of their own and so cannot satisfy LoadFile's self-membership check.
// Mirrors the original client.py, which reads config.peers directly without
// any notion of the sender's own identity.
func LoadPeerDirectory(path string) (Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Conf{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Conf
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Conf{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(c.Peers) == 0 {
		return Conf{}, fmt.Errorf("config: peers list must not be empty")
	}
	return c, nil
}
