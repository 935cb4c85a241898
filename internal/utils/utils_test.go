package utils

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildPostgresDSNFromEnv(t *testing.T) {
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "")
	t.Setenv("PG_USER", "geo")
	t.Setenv("PG_PASSWORD", "secret")
	t.Setenv("PG_DB", "")
	t.Setenv("PG_SSLMODE", "")
	want := "postgres://geo:secret@db:5432/geo?sslmode=disable"
	if got := BuildPostgresDSNFromEnv(); got != want {
		t.Fatalf("dsn: got %q, want %q", got, want)
	}
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "certs", "server.crt")
	key := filepath.Join(dir, "certs", "server.key")
	if err := EnsureSelfSignedCert(cert, key, "geo-api.local"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := tls.LoadX509KeyPair(cert, key); err != nil {
		t.Fatalf("load pair: %v", err)
	}
	before, _ := os.ReadFile(cert)
	if err := EnsureSelfSignedCert(cert, key, "geo-api.local"); err != nil {
		t.Fatalf("second call: %v", err)
	}
	after, _ := os.ReadFile(cert)
	if string(before) != string(after) {
		t.Fatalf("existing certificate was rewritten")
	}
}
