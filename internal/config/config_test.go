package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "./rbvmd.db", cfg.DBPath)
	assert.Equal(t, "local", cfg.Executor)
	assert.Equal(t, 8, cfg.MaxConcurrentJobs)
	assert.Equal(t, int64(1<<20), cfg.MaxOutputBytes())
	assert.Equal(t, "clang-7", cfg.Toolchain.CCompiler)
	assert.Equal(t, "clang++-7", cfg.Toolchain.CppCompiler)
	assert.Equal(t, []string{"stdbuf", "-oL"}, cfg.Toolchain.MaintainPrefix)
	assert.Equal(t, "pipe", cfg.Session.Transport)
	assert.Equal(t, 64*1024, cfg.Session.MaxLineBytes())
}

func TestLoadResolvesRelativeToolPaths(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(wd, "bin", "rbvm"), cfg.Toolchain.VM)
	assert.Equal(t, filepath.Join(wd, "bin", "llvm-rbvm"), cfg.Toolchain.Translator)
	// bare names are looked up in PATH
	assert.Equal(t, "clang-7", cfg.Toolchain.CCompiler)
}

func TestLoadYAML(t *testing.T) {
	yamlContent := `
listen: "0.0.0.0:9090"
max_concurrent_jobs: 2
max_output: "64KiB"
toolchain:
  vm: /opt/rbvm/bin/rbvm
  maintain_prefix: []
session:
  transport: pty
  exchange_timeout_ms: 500
`
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "test.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlContent), 0644))

	cfg, err := Load(yamlPath)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Listen)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, int64(64*1024), cfg.MaxOutputBytes())
	assert.Equal(t, "/opt/rbvm/bin/rbvm", cfg.Toolchain.VM)
	assert.Empty(t, cfg.Toolchain.MaintainPrefix)
	assert.Equal(t, "pty", cfg.Session.Transport)
	assert.Equal(t, 500, cfg.Session.ExchangeTimeoutMs)
	// untouched sections keep their defaults
	assert.Equal(t, "clang-7", cfg.Toolchain.CCompiler)
}

func TestLoadTOML(t *testing.T) {
	tomlContent := `
listen = "127.0.0.1:7000"
executor = "docker"

[docker]
container = "rbvm-toolchain"

[toolchain]
c_compiler = "/usr/bin/clang"

[session]
idle_ttl_seconds = 60
`
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "rbvmd.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlContent), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "docker", cfg.Executor)
	assert.Equal(t, "rbvm-toolchain", cfg.Docker.Container)
	assert.Equal(t, "/usr/bin/clang", cfg.Toolchain.CCompiler)
	assert.Equal(t, 60, cfg.Session.IdleTTLSeconds)
}

func TestLoadYAMLMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	// Non-existent file is not an error (silently uses defaults)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
}

func TestLoadYAMLInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("{{{{invalid yaml"), 0644))

	_, err := Load(yamlPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown executor", func(c *Config) { c.Executor = "ssh" }},
		{"docker without container", func(c *Config) { c.Executor = "docker" }},
		{"unknown transport", func(c *Config) { c.Session.Transport = "socket" }},
		{"zero job slots", func(c *Config) { c.MaxConcurrentJobs = 0 }},
		{"bad max_output", func(c *Config) { c.MaxOutput = "lots" }},
		{"bad max_line", func(c *Config) { c.Session.MaxLine = "" }},
		{"no vm", func(c *Config) { c.Toolchain.VM = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RBVMD_LISTEN", "0.0.0.0:7777")
	t.Setenv("RBVMD_DB_PATH", "/tmp/test.db")
	t.Setenv("RBVMD_SCRATCH_DIR", "/tmp/scratch")
	t.Setenv("RBVMD_MAX_CONCURRENT_JOBS", "3")
	t.Setenv("RBVMD_JOB_TIMEOUT_MS", "1500")
	t.Setenv("RBVMD_MAX_OUTPUT", "2MiB")
	t.Setenv("RBVMD_VM", "/usr/local/bin/rbvm")
	t.Setenv("RBVMD_MAINTAIN_PREFIX", "")
	t.Setenv("RBVMD_SESSION_TRANSPORT", "pty")
	t.Setenv("RBVMD_SESSION_EXCHANGE_TIMEOUT_MS", "250")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:7777", cfg.Listen)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "/tmp/scratch", cfg.ScratchDir)
	assert.Equal(t, 3, cfg.MaxConcurrentJobs)
	assert.Equal(t, 1500, cfg.JobTimeoutMs)
	assert.Equal(t, int64(2<<20), cfg.MaxOutputBytes())
	assert.Equal(t, "/usr/local/bin/rbvm", cfg.Toolchain.VM)
	assert.Empty(t, cfg.Toolchain.MaintainPrefix)
	assert.Equal(t, "pty", cfg.Session.Transport)
	assert.Equal(t, 250, cfg.Session.ExchangeTimeoutMs)
}

func TestEnvOverridesYAML(t *testing.T) {
	yamlContent := `
listen: "127.0.0.1:8080"
db_path: "/var/lib/rbvmd/yaml.db"
`
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "test.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlContent), 0644))

	t.Setenv("RBVMD_DB_PATH", "/tmp/env.db")

	cfg, err := Load(yamlPath)
	require.NoError(t, err)

	// Env should override YAML
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	// YAML value should be preserved for non-overridden fields
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
}

func TestEnvOverrideInvalidValues(t *testing.T) {
	t.Setenv("RBVMD_MAX_CONCURRENT_JOBS", "not-a-number")
	t.Setenv("RBVMD_MAX_OUTPUT", "huge")

	cfg, err := Load("")
	require.NoError(t, err)

	// Invalid values should be silently ignored, keeping defaults
	assert.Equal(t, 8, cfg.MaxConcurrentJobs)
	assert.Equal(t, "1MiB", cfg.MaxOutput)
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RBVMD_LOG_LEVEL=debug\n"), 0644))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("RBVMD_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}
