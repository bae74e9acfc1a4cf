package config

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
)

// Snapshot computes a stable hash of the publish-affecting configuration fields.
// Slice fields are order-insensitive. Callers should apply defaults first.
func (c *Config) Snapshot() string {
	if c == nil {
		return ""
	}
	h := sha256.New()
	w := func(parts ...string) { h.Write([]byte(strings.Join(parts, "="))); h.Write([]byte{0}) }
	w("source.url", c.Source.URL)
	w("source.branch", c.Source.Branch)
	w("source.depth", strconv.Itoa(c.Source.Depth))
	w("generator.command", strings.Join(c.Generator.Command, " "))
	w("generator.output_dir", c.Generator.OutputDir)
	w("redirect.target", c.Redirect.Target)
	w("publish.remote", c.PublishRemote())
	w("publish.branch", c.Publish.Branch)
	if len(c.Publish.Exclude) > 0 {
		ex := slices.Clone(c.Publish.Exclude)
		slices.Sort(ex)
		w("publish.exclude", strings.Join(ex, ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}
