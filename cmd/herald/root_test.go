package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	if err := loadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("HERALD_TEST_TOKEN=xoxb-from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HERALD_TEST_TOKEN", "")
	os.Unsetenv("HERALD_TEST_TOKEN")
	if err := loadEnv(path); err != nil {
		t.Fatalf("loadEnv: %v", err)
	}
	if got := os.Getenv("HERALD_TEST_TOKEN"); got != "xoxb-from-file" {
		t.Fatalf("HERALD_TEST_TOKEN = %q", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "jobs": false, "validate": false, "send": false, "calendar": false, "auth": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, ok := range want {
		if !ok {
			t.Errorf("command %q not registered", name)
		}
	}
}
