package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"mxprec/internal/diag"
	"mxprec/internal/driver"
)

func writeManifest(t *testing.T, dir, data string) string {
	t.Helper()
	path := filepath.Join(dir, manifestName)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func rewriteFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("rewrite", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("output", "", "")
	fs.Int("jobs", 0, "")
	fs.Bool("strict", false, "")
	fs.Bool("lower", false, "")
	fs.Bool("no-cache", false, "")
	return fs
}

func TestLoadManifestWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `# run settings
[rewrite]
config = "records/c.json"
jobs = 3
lower = true
cache = false

[trace]
level = "phase"
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := loadManifest(nested)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if m.Rewrite.Jobs != 3 || !m.Rewrite.Lower || m.Trace.Level != "phase" {
		t.Fatalf("unexpected settings: %+v", m)
	}

	flags := rewriteFlags()
	if err := flags.Parse([]string{"--jobs", "8"}); err != nil {
		t.Fatal(err)
	}
	if err := m.applyRewrite(flags); err != nil {
		t.Fatalf("applyRewrite: %v", err)
	}
	cfg, _ := flags.GetString("config")
	if want := filepath.Join(root, "records", "c.json"); cfg != want {
		t.Errorf("config = %q, want %q", cfg, want)
	}
	if jobs, _ := flags.GetInt("jobs"); jobs != 8 {
		t.Errorf("jobs = %d, want the flag value 8", jobs)
	}
	if noCache, _ := flags.GetBool("no-cache"); !noCache {
		t.Errorf("cache = false did not disable the cache")
	}
	if lower, _ := flags.GetBool("lower"); !lower {
		t.Errorf("lower not taken from the manifest")
	}
}

func TestLoadManifestMissing(t *testing.T) {
	m, err := loadManifest(t.TempDir())
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if m.Path != "" || m.Rewrite.Config != "" {
		t.Fatalf("expected empty settings, got %+v", m)
	}
}

func TestReadManifestRejectsUnknownKeys(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "[rewrite]\nconfgi = \"c.json\"\n")
	_, err := readManifest(path)
	if err == nil || !strings.Contains(err.Error(), "rewrite.confgi") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestWriteResult(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "mod.ll")
	res := &driver.Result{Path: in, Output: "; module\n", Bag: diag.NewBag(1)}

	var stdout bytes.Buffer
	if err := writeResult(&stdout, res, "", false); err != nil {
		t.Fatal(err)
	}
	if stdout.String() != res.Output {
		t.Errorf("stdout = %q", stdout.String())
	}

	if err := writeResult(&stdout, res, "", true); err != nil {
		t.Fatal(err)
	}
	if data, err := os.ReadFile(filepath.Join(dir, "mod.mxprec.ll")); err != nil || string(data) != res.Output {
		t.Errorf("sibling output: %q, %v", data, err)
	}

	outDir := filepath.Join(dir, "out")
	if err := writeResult(&stdout, res, outDir, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "mod.ll")); err != nil {
		t.Errorf("directory output: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	res := &driver.Result{Outcomes: []driver.Summary{
		{ID: "a"},
		{ID: "b", NoOp: true},
		{ID: "c", Err: "unbound"},
		{ID: "d"},
	}, Cached: true}
	if got, want := summarize(res), "2 applied, 1 unchanged, 1 failed (cached)"; got != want {
		t.Errorf("summarize = %q, want %q", got, want)
	}
}
