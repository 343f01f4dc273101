package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

const manifestName = "mxprec.toml"

// manifest holds the run settings of mxprec.toml. Paths in it are relative
// to the directory holding the file.
type manifest struct {
	Path    string          `toml:"-"`
	Rewrite rewriteSettings `toml:"rewrite"`
	Trace   traceSettings   `toml:"trace"`
}

type rewriteSettings struct {
	Config string `toml:"config"`
	Output string `toml:"output"`
	Jobs   int    `toml:"jobs"`
	Strict bool   `toml:"strict"`
	Lower  bool   `toml:"lower"`
	Cache  *bool  `toml:"cache"`
}

type traceSettings struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
}

var activeManifest = &manifest{}

func findManifest(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, manifestName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// loadManifest finds mxprec.toml by walking up from startDir. A missing
// file yields empty settings.
func loadManifest(startDir string) (*manifest, error) {
	path, ok, err := findManifest(startDir)
	if err != nil || !ok {
		return &manifest{}, err
	}
	return readManifest(path)
}

func readManifest(path string) (*manifest, error) {
	m := &manifest{Path: path}
	meta, err := toml.DecodeFile(path, m)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if m.Rewrite.Jobs < 0 {
		return nil, fmt.Errorf("%s: rewrite.jobs must not be negative", path)
	}
	return m, nil
}

// resolve makes p relative to the manifest directory.
func (m *manifest) resolve(p string) string {
	if p == "" || m.Path == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(m.Path), p)
}

// applyTrace fills the trace flags the user did not set.
func (m *manifest) applyTrace(flags *pflag.FlagSet) error {
	if m.Trace.Level != "" && !flags.Changed("trace-level") {
		if err := flags.Set("trace-level", m.Trace.Level); err != nil {
			return err
		}
	}
	if m.Trace.Output != "" && !flags.Changed("trace") {
		out := m.Trace.Output
		if out != "-" {
			out = m.resolve(out)
		}
		if err := flags.Set("trace", out); err != nil {
			return err
		}
	}
	return nil
}

// applyRewrite fills the rewrite flags the user did not set.
func (m *manifest) applyRewrite(flags *pflag.FlagSet) error {
	set := func(name, value string) error {
		if flags.Changed(name) {
			return nil
		}
		return flags.Set(name, value)
	}
	r := m.Rewrite
	if r.Config != "" {
		if err := set("config", m.resolve(r.Config)); err != nil {
			return err
		}
	}
	if r.Output != "" {
		if err := set("output", m.resolve(r.Output)); err != nil {
			return err
		}
	}
	if r.Jobs > 0 {
		if err := set("jobs", fmt.Sprint(r.Jobs)); err != nil {
			return err
		}
	}
	if r.Strict {
		if err := set("strict", "true"); err != nil {
			return err
		}
	}
	if r.Lower {
		if err := set("lower", "true"); err != nil {
			return err
		}
	}
	if r.Cache != nil && !*r.Cache {
		if err := set("no-cache", "true"); err != nil {
			return err
		}
	}
	return nil
}
