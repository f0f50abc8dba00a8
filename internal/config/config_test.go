package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/pdcadash/pdca/internal/auth"
)

func loadYAML(t *testing.T, doc string) (Config, error) {
	t.Helper()
	v := New("")
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(doc)); err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Store.Backend != "fs" || c.Store.FS.Path == "" {
		t.Errorf("unexpected store defaults: %+v", c.Store)
	}
	if c.Store.Timeout != 15*time.Second || c.Store.Retry.MaxAttempts != 3 {
		t.Errorf("unexpected policy defaults: %+v", c.Store)
	}
	if c.Rebuild.Concurrency != 4 || c.Cache.TTL != 24*time.Hour || c.Watch.Debounce != 2*time.Second {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.Authorizer() != nil {
		t.Error("expected no authorizer without tokens")
	}
}

func TestLoad_File(t *testing.T) {
	c, err := loadYAML(t, `
store:
  backend: S3
  timeout: 30s
  s3:
    endpoint: minio.local:9000
    bucket: pdca
    prefix: prod
    use_ssl: false
  retry:
    max_attempts: 5
rebuild:
  concurrency: 8
cache:
  redis_url: redis://localhost:6379/0
auth:
  token: abc
  tokens:
    - token: abc
      subject: sato
      role: editor
      clients: [junestory]
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Store.Backend != "s3" {
		t.Errorf("backend not normalized: %q", c.Store.Backend)
	}
	opts := c.StoreOptions()
	if opts.Endpoint != "minio.local:9000" || opts.Bucket != "pdca" || opts.Prefix != "prod" || opts.UseSSL || opts.Timeout != 30*time.Second {
		t.Errorf("unexpected store options: %+v", opts)
	}
	p := c.Policy()
	if p.MaxAttempts != 5 || p.InitialWait != 200*time.Millisecond {
		t.Errorf("unexpected policy: %+v", p)
	}

	authz := c.Authorizer()
	if authz == nil {
		t.Fatal("expected an authorizer")
	}
	principal, err := authz.Authenticate(c.Auth.Token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if principal.Subject != "sato" || principal.Role != auth.RoleEditor || len(principal.Clients) != 1 {
		t.Errorf("unexpected principal: %+v", principal)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PDCA_STORE_BACKEND", "memory")
	t.Setenv("PDCA_REBUILD_CONCURRENCY", "2")
	t.Setenv("PDCA_WATCH_DEBOUNCE", "500ms")

	c, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Store.Backend != "memory" || c.Rebuild.Concurrency != 2 || c.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("env overrides not applied: %+v", c)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown backend", "store:\n  backend: drive\n", "unknown store backend"},
		{"s3 without bucket", "store:\n  backend: s3\n  s3:\n    endpoint: x\n", "store.s3.bucket"},
		{"zero concurrency", "rebuild:\n  concurrency: 0\n", "rebuild.concurrency"},
		{"zero attempts", "store:\n  retry:\n    max_attempts: 0\n", "max_attempts"},
		{"cache without ttl", "cache:\n  redis_url: redis://x\n  ttl: 0s\n", "cache.ttl"},
		{"token without value", "auth:\n  tokens:\n    - subject: x\n      role: admin\n", "token is required"},
		{"unknown role", "auth:\n  tokens:\n    - token: t\n      role: owner\n", "unknown role"},
		{"duplicate token", "auth:\n  tokens:\n    - {token: t, role: admin}\n    - {token: t, role: viewer}\n", "duplicate token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadYAML(t, tt.doc)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestReadInConfig(t *testing.T) {
	// No file in the search path is fine.
	t.Chdir(t.TempDir())
	v := viper.New()
	v.SetConfigName("pdca")
	v.AddConfigPath(".")
	if err := ReadInConfig(v); err != nil {
		t.Errorf("missing config should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "pdca.toml")
	if err := os.WriteFile(path, []byte("[store]\nbackend = \"memory\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	v = New(path)
	if err := ReadInConfig(v); err != nil {
		t.Fatalf("ReadInConfig failed: %v", err)
	}
	c, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Store.Backend != "memory" {
		t.Errorf("toml config not applied: %+v", c.Store)
	}

	if err := ReadInConfig(New(filepath.Join(t.TempDir(), "missing.yaml"))); err == nil {
		t.Error("an explicitly named missing file should fail")
	}
}
