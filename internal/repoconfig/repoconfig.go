// Package repoconfig loads and rewrites keg.conf, the repository's own
// configuration file. It reuses the configfile grammar (spec.md §6) but
// projects the dotted key namespace it defines onto a typed Config,
// while preserving any key it does not recognize so a rewrite never
// drops user-set state.
package repoconfig

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fluxxu/keg/internal/kegerrors"
	"github.com/fluxxu/keg/pkg/configfile"
)

const (
	keyDefaultRemotePrefix = "keg.default-remote-prefix"
	keyVerifyIntegrity     = "keg.verify-integrity"
	keyPreferredCDNs       = "keg.preferred-cdns"
	keyArmadilloKeys       = "armadillo.keys"

	remotesPrefix        = "remotes."
	remoteWriteableSuf   = ".writeable"
	remoteDefaultFetchSu = ".default-fetch"
	remoteServerSuf      = ".server"
)

// RemoteConfig holds the per-remote settings keg.conf tracks: the
// patch-server base URL a remote's versions/cdns/bgdl/blobs endpoints
// are fetched from, plus the writeable/default-fetch flags.
type RemoteConfig struct {
	Server       string
	Writeable    bool
	DefaultFetch bool
}

// Config is the typed projection of keg.conf.
type Config struct {
	DefaultRemotePrefix string
	VerifyIntegrity     bool
	PreferredCDNs       []string
	ArmadilloKeysPath   string
	Remotes             map[string]RemoteConfig

	// overflow preserves every key this loader does not model, in
	// declaration order, so Rewrite round-trips them verbatim.
	overflow     map[string][]string
	overflowKeys []string
}

// Default returns the configuration a freshly-initialized repository
// carries: verification on, no preferred CDNs, no remotes.
func Default() *Config {
	return &Config{
		VerifyIntegrity: true,
		Remotes:         make(map[string]RemoteConfig),
		overflow:        make(map[string][]string),
	}
}

// Load parses a keg.conf document.
func Load(r io.Reader) (*Config, error) {
	f, err := configfile.Parse(r)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Remotes:  make(map[string]RemoteConfig),
		overflow: make(map[string][]string),
	}

	for _, k := range f.Keys() {
		vals, _ := f.Values(k)
		if err := cfg.assign(k, vals); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) assign(k string, vals []string) error {
	switch {
	case k == keyDefaultRemotePrefix:
		c.DefaultRemotePrefix = first(vals)
	case k == keyVerifyIntegrity:
		b, err := strconv.ParseBool(first(vals))
		if err != nil {
			return &kegerrors.ConfigError{Key: k, Reason: err.Error()}
		}
		c.VerifyIntegrity = b
	case k == keyPreferredCDNs:
		c.PreferredCDNs = vals
	case k == keyArmadilloKeys:
		c.ArmadilloKeysPath = first(vals)
	case strings.HasPrefix(k, remotesPrefix) && strings.HasSuffix(k, remoteServerSuf):
		name := strings.TrimSuffix(strings.TrimPrefix(k, remotesPrefix), remoteServerSuf)
		rc := c.Remotes[name]
		rc.Server = first(vals)
		c.Remotes[name] = rc
	case strings.HasPrefix(k, remotesPrefix) && strings.HasSuffix(k, remoteWriteableSuf):
		name := strings.TrimSuffix(strings.TrimPrefix(k, remotesPrefix), remoteWriteableSuf)
		b, err := strconv.ParseBool(first(vals))
		if err != nil {
			return &kegerrors.ConfigError{Key: k, Reason: err.Error()}
		}
		rc := c.Remotes[name]
		rc.Writeable = b
		c.Remotes[name] = rc
	case strings.HasPrefix(k, remotesPrefix) && strings.HasSuffix(k, remoteDefaultFetchSu):
		name := strings.TrimSuffix(strings.TrimPrefix(k, remotesPrefix), remoteDefaultFetchSu)
		b, err := strconv.ParseBool(first(vals))
		if err != nil {
			return &kegerrors.ConfigError{Key: k, Reason: err.Error()}
		}
		rc := c.Remotes[name]
		rc.DefaultFetch = b
		c.Remotes[name] = rc
	default:
		if _, exists := c.overflow[k]; !exists {
			c.overflowKeys = append(c.overflowKeys, k)
		}
		c.overflow[k] = vals
	}
	return nil
}

// Rewrite serializes the configuration back to the key = value grammar,
// recognized keys first in a stable order, then preserved unknown keys
// in their original declaration order.
func (c *Config) Rewrite(w io.Writer) error {
	var lines []string

	if c.DefaultRemotePrefix != "" {
		lines = append(lines, fmt.Sprintf("%s = %s", keyDefaultRemotePrefix, c.DefaultRemotePrefix))
	}
	lines = append(lines, fmt.Sprintf("%s = %t", keyVerifyIntegrity, c.VerifyIntegrity))
	if len(c.PreferredCDNs) > 0 {
		lines = append(lines, fmt.Sprintf("%s = %s", keyPreferredCDNs, strings.Join(c.PreferredCDNs, " ")))
	}
	if c.ArmadilloKeysPath != "" {
		lines = append(lines, fmt.Sprintf("%s = %s", keyArmadilloKeys, c.ArmadilloKeysPath))
	}

	names := make([]string, 0, len(c.Remotes))
	for name := range c.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rc := c.Remotes[name]
		if rc.Server != "" {
			lines = append(lines, fmt.Sprintf("remotes.%s.server = %s", name, rc.Server))
		}
		lines = append(lines, fmt.Sprintf("remotes.%s.writeable = %t", name, rc.Writeable))
		lines = append(lines, fmt.Sprintf("remotes.%s.default-fetch = %t", name, rc.DefaultFetch))
	}

	for _, k := range c.overflowKeys {
		lines = append(lines, fmt.Sprintf("%s = %s", k, strings.Join(c.overflow[k], " ")))
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
