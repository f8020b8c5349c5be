package main

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := t.TempDir()
	set := backupSet{
		cfgPath:   filepath.Join(src, "config.json"),
		dbPath:    filepath.Join(src, "data", "audit.db"),
		sitesPath: filepath.Join(src, "sites.yaml"),
		prompt:    filepath.Join(src, "system_prompt.txt"),
	}
	contents := map[string]string{
		set.cfgPath:   `{"general":{}}`,
		set.dbPath:    "sqlite bytes",
		set.sitesPath: "sites: {}",
		set.prompt:    "be brief",
	}
	for path, body := range contents {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	files := set.files()
	if len(files) != 4 {
		t.Fatalf("expected 4 files, got %v", files)
	}
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	dst := t.TempDir()
	restoreSet := backupSet{
		cfgPath:   filepath.Join(dst, "config.json"),
		dbPath:    filepath.Join(dst, "db", "audit.db"),
		sitesPath: filepath.Join(dst, "sites.yaml"),
		prompt:    filepath.Join(dst, "system_prompt.txt"),
	}
	restored, err := extractTarGz(archive, restoreSet.target)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 4 {
		t.Fatalf("expected 4 restored files, got %v", restored)
	}

	got, err := os.ReadFile(restoreSet.dbPath)
	if err != nil {
		t.Fatalf("read restored db: %v", err)
	}
	if string(got) != "sqlite bytes" {
		t.Errorf("db contents = %q", got)
	}
	got, _ = os.ReadFile(restoreSet.prompt)
	if string(got) != "be brief" {
		t.Errorf("prompt contents = %q", got)
	}
}

func TestExtractTarGz_RejectsNonGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	os.WriteFile(path, []byte("not an archive"), 0o644)

	if _, err := extractTarGz(path, func(string) string { return "" }); err == nil {
		t.Fatal("expected error for non-gzip input")
	}
}

func TestBackupSetTarget(t *testing.T) {
	set := backupSet{
		cfgPath: "/cfg/config.json",
		dbPath:  "/data/audit.db",
		prompt:  "/cfg/system_prompt.txt",
	}
	tests := map[string]string{
		"config.json":       "/cfg/config.json",
		"old.db":            "/data/audit.db",
		"old.db-wal":        "/data/audit.db-wal",
		"system_prompt.txt": "/cfg/system_prompt.txt",
		"notes.txt":         "/cfg/notes.txt",
	}
	for name, want := range tests {
		if got := set.target(name); got != filepath.FromSlash(want) {
			t.Errorf("target(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestRenderUnit(t *testing.T) {
	unit := renderUnit(systemdTemplate, map[string]string{"EXEC": "/usr/bin/chataide", "CONFIG": "/etc/chataide.json"})
	if !strings.Contains(unit, "ExecStart=/usr/bin/chataide serve --config /etc/chataide.json") {
		t.Errorf("unexpected unit:\n%s", unit)
	}
	if strings.Contains(unit, "{{") {
		t.Errorf("unfilled placeholder in unit:\n%s", unit)
	}
}

func TestDialable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if !dialable("http://" + addr + "/generate-replies") {
		t.Errorf("expected %s to be dialable", addr)
	}
	ln.Close()
	if dialable("http://" + addr + "/generate-replies") {
		t.Errorf("expected %s to be closed", addr)
	}
}
