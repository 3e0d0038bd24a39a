package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ToolchainConfig struct {
	CCompiler      string   `yaml:"c_compiler" toml:"c_compiler"`
	CppCompiler    string   `yaml:"cpp_compiler" toml:"cpp_compiler"`
	CompilerFlags  []string `yaml:"compiler_flags" toml:"compiler_flags"`
	Translator     string   `yaml:"translator" toml:"translator"`
	Disassembler   string   `yaml:"disassembler" toml:"disassembler"`
	VM             string   `yaml:"vm" toml:"vm"`
	MaintainPrefix []string `yaml:"maintain_prefix" toml:"maintain_prefix"`
}

type SessionConfig struct {
	Transport         string `yaml:"transport" toml:"transport"` // pipe | pty
	IdleTTLSeconds    int    `yaml:"idle_ttl_seconds" toml:"idle_ttl_seconds"`
	ExchangeTimeoutMs int    `yaml:"exchange_timeout_ms" toml:"exchange_timeout_ms"`
	TerminateGraceMs  int    `yaml:"terminate_grace_ms" toml:"terminate_grace_ms"`
	MaxLine           string `yaml:"max_line" toml:"max_line"`
	ReapIntervalSecs  int    `yaml:"reap_interval_seconds" toml:"reap_interval_seconds"`
}

type DockerConfig struct {
	Container string `yaml:"container" toml:"container"`
	Workdir   string `yaml:"workdir" toml:"workdir"`
}

type Config struct {
	Listen            string          `yaml:"listen" toml:"listen"`
	DBPath            string          `yaml:"db_path" toml:"db_path"`
	ScratchDir        string          `yaml:"scratch_dir" toml:"scratch_dir"`
	LogLevel          string          `yaml:"log_level" toml:"log_level"`
	MaxConcurrentJobs int             `yaml:"max_concurrent_jobs" toml:"max_concurrent_jobs"`
	JobTimeoutMs      int             `yaml:"job_timeout_ms" toml:"job_timeout_ms"`
	MaxOutput         string          `yaml:"max_output" toml:"max_output"`
	Executor          string          `yaml:"executor" toml:"executor"` // local | docker
	Toolchain         ToolchainConfig `yaml:"toolchain" toml:"toolchain"`
	Session           SessionConfig   `yaml:"session" toml:"session"`
	Docker            DockerConfig    `yaml:"docker" toml:"docker"`
}

func Default() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		DBPath:            "./rbvmd.db",
		ScratchDir:        "./scratch",
		LogLevel:          "info",
		MaxConcurrentJobs: 8,
		JobTimeoutMs:      60000,
		MaxOutput:         "1MiB",
		Executor:          "local",
		Toolchain: ToolchainConfig{
			CCompiler:      "clang-7",
			CppCompiler:    "clang++-7",
			CompilerFlags:  []string{"-S", "-emit-llvm", "-DJUDGE"},
			Translator:     "bin/llvm-rbvm",
			Disassembler:   "bin/da",
			VM:             "bin/rbvm",
			MaintainPrefix: []string{"stdbuf", "-oL"},
		},
		Session: SessionConfig{
			Transport:         "pipe",
			IdleTTLSeconds:    1800,
			ExchangeTimeoutMs: 30000,
			TerminateGraceMs:  2000,
			MaxLine:           "64KiB",
			ReapIntervalSecs:  30,
		},
		Docker: DockerConfig{
			Workdir: "/scratch",
		},
	}
}

// Load builds the configuration from defaults, the config file (YAML, or TOML
// when the path ends in .toml), a .env file next to the working directory and
// RBVMD_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := decode(path, data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Missing .env is fine; variables already set in the environment win.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Tool paths of the docker executor name files inside the container.
	if cfg.Executor == "local" {
		cfg.resolveToolPaths()
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Executor != "local" && c.Executor != "docker" {
		return fmt.Errorf("executor must be local or docker, got %q", c.Executor)
	}
	if c.Executor == "docker" && c.Docker.Container == "" {
		return fmt.Errorf("docker.container is required when executor is docker")
	}
	if c.Session.Transport != "pipe" && c.Session.Transport != "pty" {
		return fmt.Errorf("session.transport must be pipe or pty, got %q", c.Session.Transport)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive")
	}
	if _, err := units.RAMInBytes(c.MaxOutput); err != nil {
		return fmt.Errorf("max_output: %w", err)
	}
	if _, err := units.RAMInBytes(c.Session.MaxLine); err != nil {
		return fmt.Errorf("session.max_line: %w", err)
	}
	if c.Toolchain.VM == "" {
		return fmt.Errorf("toolchain.vm is required")
	}
	return nil
}

// resolveToolPaths turns relative tool paths into absolute ones. Bare command
// names are left for PATH lookup. Child processes run inside their scratch
// directory, so a relative path would otherwise resolve against it.
func (c *Config) resolveToolPaths() {
	tc := &c.Toolchain
	for _, p := range []*string{&tc.CCompiler, &tc.CppCompiler, &tc.Translator, &tc.Disassembler, &tc.VM} {
		*p = absTool(*p)
	}
}

func absTool(p string) string {
	if p == "" || filepath.IsAbs(p) || !strings.ContainsRune(p, filepath.Separator) {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// MaxOutputBytes is the cap on captured output of one-shot processes.
func (c *Config) MaxOutputBytes() int64 {
	n, _ := units.RAMInBytes(c.MaxOutput)
	return n
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMs) * time.Millisecond
}

func (s SessionConfig) MaxLineBytes() int {
	n, _ := units.RAMInBytes(s.MaxLine)
	return int(n)
}

func (s SessionConfig) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLSeconds) * time.Second
}

func (s SessionConfig) ExchangeTimeout() time.Duration {
	return time.Duration(s.ExchangeTimeoutMs) * time.Millisecond
}

func (s SessionConfig) TerminateGrace() time.Duration {
	return time.Duration(s.TerminateGraceMs) * time.Millisecond
}

func (s SessionConfig) ReapInterval() time.Duration {
	return time.Duration(s.ReapIntervalSecs) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RBVMD_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("RBVMD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RBVMD_SCRATCH_DIR"); v != "" {
		cfg.ScratchDir = v
	}
	if v := os.Getenv("RBVMD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RBVMD_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentJobs = n
		}
	}
	if v := os.Getenv("RBVMD_JOB_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobTimeoutMs = n
		}
	}
	if v := os.Getenv("RBVMD_MAX_OUTPUT"); v != "" {
		if _, err := units.RAMInBytes(v); err == nil {
			cfg.MaxOutput = v
		}
	}
	if v := os.Getenv("RBVMD_EXECUTOR"); v != "" {
		cfg.Executor = v
	}
	if v := os.Getenv("RBVMD_DOCKER_CONTAINER"); v != "" {
		cfg.Docker.Container = v
	}
	if v := os.Getenv("RBVMD_C_COMPILER"); v != "" {
		cfg.Toolchain.CCompiler = v
	}
	if v := os.Getenv("RBVMD_CPP_COMPILER"); v != "" {
		cfg.Toolchain.CppCompiler = v
	}
	if v := os.Getenv("RBVMD_TRANSLATOR"); v != "" {
		cfg.Toolchain.Translator = v
	}
	if v := os.Getenv("RBVMD_DISASSEMBLER"); v != "" {
		cfg.Toolchain.Disassembler = v
	}
	if v := os.Getenv("RBVMD_VM"); v != "" {
		cfg.Toolchain.VM = v
	}
	if v, ok := os.LookupEnv("RBVMD_MAINTAIN_PREFIX"); ok {
		cfg.Toolchain.MaintainPrefix = strings.Fields(v)
	}
	if v := os.Getenv("RBVMD_SESSION_TRANSPORT"); v != "" {
		cfg.Session.Transport = v
	}
	if v := os.Getenv("RBVMD_SESSION_IDLE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.IdleTTLSeconds = n
		}
	}
	if v := os.Getenv("RBVMD_SESSION_EXCHANGE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.ExchangeTimeoutMs = n
		}
	}
}
