package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `coinflow:
  name: "TestApp"
  version: "1.0"
channels:
  batch_buffer: 4
source:
  coingecko:
    page_size: 250
    request_delay: 1s
cache:
  max_size: 100
storage:
  dynamodb:
    enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Coinflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Coinflow.Name)
	}
	if cfg.Channels.BatchBuffer != 4 {
		t.Errorf("unexpected batch buffer: %d", cfg.Channels.BatchBuffer)
	}
	if cfg.Source.Coingecko.RequestDelay != time.Second {
		t.Errorf("unexpected request delay: %s", cfg.Source.Coingecko.RequestDelay)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Source.Coingecko.Retry.MaxAttempts != 3 {
		t.Errorf("unexpected retry attempts: %d", cfg.Source.Coingecko.Retry.MaxAttempts)
	}
	if cfg.Source.Coingecko.Retry.BaseDelay != 2*time.Second {
		t.Errorf("unexpected retry base delay: %s", cfg.Source.Coingecko.Retry.BaseDelay)
	}
	if cfg.Channels.PollTimeout != 5*time.Second {
		t.Errorf("unexpected poll timeout: %s", cfg.Channels.PollTimeout)
	}
	if cfg.Scheduler.FetchInterval != time.Minute {
		t.Errorf("unexpected fetch interval: %s", cfg.Scheduler.FetchInterval)
	}
	if cfg.Scheduler.PersistInterval != 30*time.Second {
		t.Errorf("unexpected persist interval: %s", cfg.Scheduler.PersistInterval)
	}
	if cfg.Storage.Dynamo.BatchSize != 25 {
		t.Errorf("unexpected dynamo batch size: %d", cfg.Storage.Dynamo.BatchSize)
	}
	if cfg.Storage.Dynamo.MaxRetries != 5 {
		t.Errorf("unexpected dynamo max retries: %d", cfg.Storage.Dynamo.MaxRetries)
	}
}

func TestSchedulerEnvOverrides(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	t.Setenv("FETCH_INTERVAL", "90")
	t.Setenv("PERSIST_INTERVAL", "45s")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Scheduler.FetchInterval != 90*time.Second {
		t.Errorf("fetch interval override not applied: %s", cfg.Scheduler.FetchInterval)
	}
	if cfg.Scheduler.PersistInterval != 45*time.Second {
		t.Errorf("persist interval override not applied: %s", cfg.Scheduler.PersistInterval)
	}
}

func TestValidateDynamoEnabledRequiresTable(t *testing.T) {
	content := `coinflow:
  name: "TestApp"
  version: "1.0"
channels:
  batch_buffer: 4
storage:
  dynamodb:
    enabled: true
    region: "eu-west-1"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected validation error for missing table")
	}
}

func TestValidateProductionRequiresStoreCredentials(t *testing.T) {
	content := `coinflow:
  name: "TestApp"
  version: "1.0"
channels:
  batch_buffer: 4
storage:
  dynamodb:
    enabled: true
    table: "coinflow-coins"
    region: "eu-west-1"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	t.Setenv("APP_ENV", EnvironmentDevelopment)
	if _, err := LoadConfig(f.Name()); err != nil {
		t.Fatalf("development must tolerate chain credentials: %v", err)
	}

	t.Setenv("APP_ENV", EnvironmentProduction)
	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected validation error for missing credentials in production")
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "AKIAEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	if _, err := LoadConfig(f.Name()); err != nil {
		t.Fatalf("explicit credentials must validate in production: %v", err)
	}
}

func TestIsValidTableName(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"coinflow-coins", true},
		{"Coins_v2.prod", true},
		{"ab", false},
		{"bad name", false},
	}
	for _, c := range cases {
		if got := isValidTableName(c.name); got != c.valid {
			t.Errorf("isValidTableName(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestIsProductionLike(t *testing.T) {
	cases := []struct {
		env  string
		want bool
	}{
		{EnvironmentProduction, true},
		{EnvironmentStaging, true},
		{EnvironmentDevelopment, false},
		{EnvironmentTest, false},
	}
	for _, c := range cases {
		if got := IsProductionLike(c.env); got != c.want {
			t.Errorf("IsProductionLike(%q) = %v, want %v", c.env, got, c.want)
		}
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if env := AppEnvironment(); env != EnvironmentProduction {
		t.Errorf("unexpected environment: %s", env)
	}
	t.Setenv("APP_ENV", "")
	if env := AppEnvironment(); env != EnvironmentDevelopment {
		t.Errorf("unexpected default environment: %s", env)
	}
}
