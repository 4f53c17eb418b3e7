package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
port: "8080"
databaseURL: "postgres://localhost/amberscan"
redisAddr: "localhost:6379"
signatureSecret: "sig-secret"
sessionSecret: "sess-secret"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.QueueDriver != "redis" || cfg.QueueName == "" || cfg.QueueGroup == "" {
		t.Fatalf("expected queue defaults, got %+v", cfg)
	}
	if cfg.StorageDriver != "local" || cfg.StorageRoot == "" {
		t.Fatalf("expected storage defaults, got %+v", cfg)
	}
	if cfg.MaxImageUploadBytes != 5<<20 || cfg.MaxPDFUploadBytes != 20<<20 {
		t.Fatalf("expected upload size defaults, got %d and %d", cfg.MaxImageUploadBytes, cfg.MaxPDFUploadBytes)
	}
	if cfg.QueueConcurrency != 4 {
		t.Fatalf("expected default concurrency, got %d", cfg.QueueConcurrency)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db-host/amberscan")
	t.Setenv("AMBERSCAN_SIGNATURE_SECRET", "env-sig")
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db-host/amberscan" {
		t.Fatalf("expected DATABASE_URL override, got %q", cfg.DatabaseURL)
	}
	if cfg.SignatureSecret != "env-sig" {
		t.Fatalf("expected signature secret override, got %q", cfg.SignatureSecret)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing port",
			content: strings.Replace(validConfig, `port: "8080"`, "", 1),
			want:    "port",
		},
		{
			name:    "missing database",
			content: strings.Replace(validConfig, `databaseURL: "postgres://localhost/amberscan"`, "", 1),
			want:    "databaseURL",
		},
		{
			name:    "missing signature secret",
			content: strings.Replace(validConfig, `signatureSecret: "sig-secret"`, "", 1),
			want:    "signatureSecret",
		},
		{
			name:    "missing session secret",
			content: strings.Replace(validConfig, `sessionSecret: "sess-secret"`, "", 1),
			want:    "sessionSecret",
		},
		{
			name:    "unknown queue driver",
			content: validConfig + "\nqueueDriver: \"kafka\"\n",
			want:    "queueDriver",
		},
		{
			name:    "amqp driver without url",
			content: validConfig + "\nqueueDriver: \"amqp\"\n",
			want:    "amqpURL",
		},
		{
			name:    "minio driver without credentials",
			content: validConfig + "\nstorageDriver: \"minio\"\n",
			want:    "minio",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
