package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/wallpunch/wizard/config"
	"github.com/wallpunch/wizard/format"
	"github.com/wallpunch/wizard/scheduler"
)

// TestEndToEndEmptyConfigCompletesCleanly exercises the same path
// main() takes: discover a config file, load it, run the scheduler.
// An empty config enables no groups, so every group is skipped for
// being disabled, and the run completes without touching the network.
func TestEndToEndEmptyConfigCompletesCleanly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	found, err := config.Discover(dir)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if found != path {
		t.Errorf("Discover found %q, want %q", found, path)
	}

	cfg, err := config.Load(found)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var out bytes.Buffer
	colors := format.NewColors(os.Stdout, true)
	if _, err := scheduler.Run(&out, cfg, colors); err != nil {
		t.Fatalf("scheduler.Run failed on an empty config: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("Loaded 0 tests")) {
		t.Errorf("expected the loaded-tests banner to report 0 tests, got: %s", out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("All tests complete!")) {
		t.Errorf("expected the completion line, got: %s", out.String())
	}
}

func TestDiscoverReportsMissingConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.Discover(dir); err == nil {
		t.Error("expected an error when no config file exists")
	}
}
