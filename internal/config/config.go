package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "threatlens.yml"
	DefaultEnvFile    = ".env"

	envDetectors    = "THREATLENS_DETECTORS"
	envOutputDir    = "THREATLENS_OUTPUT_DIR"
	envFormats      = "THREATLENS_FORMATS"
	envStagingDir   = "THREATLENS_STAGING_DIR"
	envReputationDB = "THREATLENS_REPUTATION_DB"
	envScanTimeout  = "THREATLENS_SCAN_TIMEOUT"
	envLogLevel     = "THREATLENS_LOG_LEVEL"
	envLogFormat    = "THREATLENS_LOG_FORMAT"
	envMetricsFile  = "THREATLENS_METRICS_FILE"
	envEnvFile      = "THREATLENS_ENV_FILE"

	EnvVirusTotalKey   = "VIRUSTOTAL_API_KEY"
	EnvSafeBrowsingKey = "GOOGLE_SAFEBROWSING_API_KEY"
	EnvURLhausKey      = "URLHAUS_API_KEY"
	EnvAbuseIPDBKey    = "ABUSEIPDB_API_KEY"
	EnvAzureEndpoint   = "AZURE_OPENAI_ENDPOINT"
	EnvAzureKey        = "AZURE_OPENAI_KEY"
	EnvAzureDeployment = "AZURE_OPENAI_DEPLOYMENT"
)

// Built-in detector names, in default registry order.
const (
	DetectorReputation    = "reputation"
	DetectorURLhaus       = "urlhaus"
	DetectorVirusTotal    = "virustotal"
	DetectorSafeBrowsing  = "safebrowsing"
	DetectorAbuseIPDB     = "abuseipdb"
	DetectorSiteContent   = "site-content"
	DetectorURLHeuristics = "url-heuristics"
	DetectorLSB           = "lsb"
	DetectorMetadata      = "metadata"
	DetectorCodec         = "codec"
	DetectorAIContent     = "ai-content"
)

// BuiltinDetectors lists every built-in detector in default registry order.
var BuiltinDetectors = []string{
	DetectorReputation,
	DetectorURLhaus,
	DetectorVirusTotal,
	DetectorSafeBrowsing,
	DetectorAbuseIPDB,
	DetectorSiteContent,
	DetectorURLHeuristics,
	DetectorLSB,
	DetectorMetadata,
	DetectorCodec,
	DetectorAIContent,
}

// Loader merges configuration coming from files, environment variables, and CLI flags.
type Loader struct {
	ConfigPath string
}

// DetectorSetting selects one detector and optionally bounds it. A zero Timeout uses
// the remote or local default.
type DetectorSetting struct {
	Name    string
	Timeout time.Duration
}

// CommandConfig declares an external tool run as a detector.
type CommandConfig struct {
	Name     string        `yaml:"name"`
	Command  string        `yaml:"command"`
	Args     []string      `yaml:"args"`
	Kinds    []string      `yaml:"kinds"`
	Category string        `yaml:"category"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Credentials are only ever read from the environment or the env file.
type Credentials struct {
	VirusTotalKey   string
	SafeBrowsingKey string
	URLhausKey      string
	AbuseIPDBKey    string
	AzureEndpoint   string
	AzureKey        string
	AzureDeployment string
}

// RuntimeConfig contains the fully merged settings required by sub-commands.
type RuntimeConfig struct {
	ScanTimeout   time.Duration
	RemoteTimeout time.Duration
	LocalTimeout  time.Duration
	Detectors     []DetectorSetting
	Commands      []CommandConfig
	FFprobe       string
	StagingDir    string
	OutputDir     string
	Formats       []string
	ReputationDB  string
	EnvFile       string
	LogLevel      string
	LogFormat     string
	MetricsFile   string
	Credentials   Credentials
}

// Overrides captures values coming from the config file, env vars or CLI flags.
// Zero values leave the current setting untouched.
type Overrides struct {
	ScanTimeout   time.Duration
	RemoteTimeout time.Duration
	LocalTimeout  time.Duration
	Detectors     []DetectorSetting
	Commands      []CommandConfig
	FFprobe       string
	StagingDir    string
	OutputDir     string
	Formats       []string
	ReputationDB  string
	EnvFile       string
	LogLevel      string
	LogFormat     string
	MetricsFile   string
}

// DefaultRuntimeConfig returns the baseline configuration when no overrides are provided.
func DefaultRuntimeConfig() RuntimeConfig {
	detectors := make([]DetectorSetting, 0, len(BuiltinDetectors))
	for _, name := range BuiltinDetectors {
		detectors = append(detectors, DetectorSetting{Name: name})
	}
	return RuntimeConfig{
		ScanTimeout:   30 * time.Second,
		RemoteTimeout: 8 * time.Second,
		LocalTimeout:  20 * time.Second,
		Detectors:     detectors,
		FFprobe:       "ffprobe",
		OutputDir:     "scan-results",
		Formats:       []string{"json", "csv"},
		ReputationDB:  filepath.Join(".threatlens", "reputation.db"),
		EnvFile:       DefaultEnvFile,
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

// Load resolves the final runtime configuration.
func (l Loader) Load(override Overrides) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	path := l.ConfigPath
	if path == "" {
		path = DefaultConfigPath
	}

	if fileExists(path) {
		fileOv, err := loadFromFile(path)
		if err != nil {
			return cfg, err
		}
		cfg.apply(fileOv)
	}

	// The env file location itself can come from any layer, so resolve it first.
	envFile, explicit := cfg.EnvFile, false
	if value := os.Getenv(envEnvFile); value != "" {
		envFile, explicit = value, true
	}
	if override.EnvFile != "" {
		envFile, explicit = override.EnvFile, true
	}
	if cfg.EnvFile != DefaultEnvFile {
		explicit = true
	}
	fileVars, err := readEnvFile(envFile, explicit)
	if err != nil {
		return cfg, err
	}
	lookup := func(key string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		return fileVars[key]
	}

	envOv, err := overridesFromEnv(lookup)
	if err != nil {
		return cfg, err
	}
	cfg.apply(envOv)
	cfg.apply(override)
	cfg.EnvFile = envFile
	cfg.Credentials = credentialsFrom(lookup)

	return cfg, nil
}

// Validate ensures the config is usable by the scan and init commands.
func (c RuntimeConfig) Validate() error {
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scanTimeout must be positive (got %s)", c.ScanTimeout)
	}
	if c.RemoteTimeout <= 0 || c.LocalTimeout <= 0 {
		return errors.New("remoteTimeout and localTimeout must be positive")
	}

	if len(c.Formats) == 0 {
		return errors.New("at least one output format must be specified")
	}
	for _, f := range c.Formats {
		if f != "json" && f != "csv" {
			return fmt.Errorf("unsupported output format %q (expected json or csv)", f)
		}
	}

	if c.OutputDir == "" {
		return errors.New("output directory cannot be empty")
	}

	known := map[string]struct{}{}
	for _, name := range BuiltinDetectors {
		known[name] = struct{}{}
	}
	for i, cmd := range c.Commands {
		if strings.TrimSpace(cmd.Name) == "" || strings.TrimSpace(cmd.Command) == "" {
			return fmt.Errorf("commands[%d] needs both name and command", i)
		}
		if _, dup := known[cmd.Name]; dup {
			return fmt.Errorf("command detector %q collides with another detector name", cmd.Name)
		}
		for _, kind := range cmd.Kinds {
			if kind != "file" && kind != "image" {
				return fmt.Errorf("command detector %q: kind %q is not file or image", cmd.Name, kind)
			}
		}
		if cmd.Timeout < 0 {
			return fmt.Errorf("command detector %q has a negative timeout", cmd.Name)
		}
		known[cmd.Name] = struct{}{}
	}

	if len(c.Detectors) == 0 {
		return errors.New("no detectors enabled")
	}
	seen := map[string]struct{}{}
	for _, d := range c.Detectors {
		if _, ok := known[d.Name]; !ok {
			return fmt.Errorf("unknown detector %q", d.Name)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("detector %q listed twice", d.Name)
		}
		if d.Timeout < 0 {
			return fmt.Errorf("detector %q has a negative timeout", d.Name)
		}
		seen[d.Name] = struct{}{}
	}

	return nil
}

// IsLocalDetector reports whether a detector runs on this host rather than calling a service.
func IsLocalDetector(name string) bool {
	switch name {
	case DetectorReputation, DetectorURLHeuristics, DetectorLSB, DetectorMetadata, DetectorCodec:
		return true
	case DetectorURLhaus, DetectorVirusTotal, DetectorSafeBrowsing, DetectorAbuseIPDB, DetectorSiteContent, DetectorAIContent:
		return false
	default:
		// operator commands
		return true
	}
}

// TimeoutFor resolves a detector's bound: explicit setting, then command timeout,
// then the remote or local default.
func (c RuntimeConfig) TimeoutFor(name string) time.Duration {
	for _, d := range c.Detectors {
		if d.Name == name && d.Timeout > 0 {
			return d.Timeout
		}
	}
	for _, cmd := range c.Commands {
		if cmd.Name == name && cmd.Timeout > 0 {
			return cmd.Timeout
		}
	}
	if IsLocalDetector(name) {
		return c.LocalTimeout
	}
	return c.RemoteTimeout
}

// DetectorNames lists enabled detectors in order.
func (c RuntimeConfig) DetectorNames() []string {
	names := make([]string, 0, len(c.Detectors))
	for _, d := range c.Detectors {
		names = append(names, d.Name)
	}
	return names
}

func (c *RuntimeConfig) apply(src Overrides) {
	if src.ScanTimeout > 0 {
		c.ScanTimeout = src.ScanTimeout
	}
	if src.RemoteTimeout > 0 {
		c.RemoteTimeout = src.RemoteTimeout
	}
	if src.LocalTimeout > 0 {
		c.LocalTimeout = src.LocalTimeout
	}

	if len(src.Detectors) > 0 {
		c.Detectors = mergeDetectors(c.Detectors, src.Detectors)
	}

	// Declared commands join the selection; a later detector list can still leave them out.
	if len(src.Commands) > 0 {
		c.Commands = src.Commands
		for _, cmd := range src.Commands {
			if !c.hasDetector(cmd.Name) {
				c.Detectors = append(c.Detectors, DetectorSetting{Name: cmd.Name})
			}
		}
	}

	if src.FFprobe != "" {
		c.FFprobe = src.FFprobe
	}

	if src.StagingDir != "" {
		c.StagingDir = src.StagingDir
	}

	if src.OutputDir != "" {
		c.OutputDir = src.OutputDir
	}

	if len(src.Formats) > 0 {
		c.Formats = normalizeFormats(src.Formats)
	}

	if src.ReputationDB != "" {
		c.ReputationDB = src.ReputationDB
	}

	if src.EnvFile != "" {
		c.EnvFile = src.EnvFile
	}

	if src.LogLevel != "" {
		c.LogLevel = src.LogLevel
	}

	if src.LogFormat != "" {
		c.LogFormat = src.LogFormat
	}

	if src.MetricsFile != "" {
		c.MetricsFile = src.MetricsFile
	}
}

func (c RuntimeConfig) hasDetector(name string) bool {
	for _, d := range c.Detectors {
		if d.Name == name {
			return true
		}
	}
	return false
}

// mergeDetectors replaces the selection while keeping timeouts set by an earlier layer.
func mergeDetectors(current, next []DetectorSetting) []DetectorSetting {
	previous := map[string]time.Duration{}
	for _, d := range current {
		previous[d.Name] = d.Timeout
	}
	out := make([]DetectorSetting, 0, len(next))
	for _, d := range next {
		if d.Timeout == 0 {
			d.Timeout = previous[d.Name]
		}
		out = append(out, d)
	}
	return out
}

func loadFromFile(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, err
	}

	type rawConfig struct {
		ScanTimeout   time.Duration   `yaml:"scanTimeout"`
		RemoteTimeout time.Duration   `yaml:"remoteTimeout"`
		LocalTimeout  time.Duration   `yaml:"localTimeout"`
		Detectors     detectorList    `yaml:"detectors"`
		Commands      []CommandConfig `yaml:"commands"`
		FFprobe       string          `yaml:"ffprobe"`
		StagingDir    string          `yaml:"stagingDir"`
		OutputDir     string          `yaml:"outputDir"`
		Formats       []string        `yaml:"formats"`
		ReputationDB  string          `yaml:"reputationDB"`
		EnvFile       string          `yaml:"envFile"`
		LogLevel      string          `yaml:"logLevel"`
		LogFormat     string          `yaml:"logFormat"`
		MetricsFile   string          `yaml:"metricsFile"`
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Overrides{}, fmt.Errorf("parse %s: %w", path, err)
	}

	return Overrides{
		ScanTimeout:   raw.ScanTimeout,
		RemoteTimeout: raw.RemoteTimeout,
		LocalTimeout:  raw.LocalTimeout,
		Detectors:     raw.Detectors,
		Commands:      raw.Commands,
		FFprobe:       raw.FFprobe,
		StagingDir:    raw.StagingDir,
		OutputDir:     raw.OutputDir,
		Formats:       raw.Formats,
		ReputationDB:  raw.ReputationDB,
		EnvFile:       raw.EnvFile,
		LogLevel:      raw.LogLevel,
		LogFormat:     raw.LogFormat,
		MetricsFile:   raw.MetricsFile,
	}, nil
}

func overridesFromEnv(lookup func(string) string) (Overrides, error) {
	ov := Overrides{}

	if value := lookup(envDetectors); value != "" {
		ov.Detectors = ParseDetectors(value)
	}

	if value := lookup(envOutputDir); value != "" {
		ov.OutputDir = value
	}

	if value := lookup(envFormats); value != "" {
		ov.Formats = ParseFormats(value)
	}

	if value := lookup(envStagingDir); value != "" {
		ov.StagingDir = value
	}

	if value := lookup(envReputationDB); value != "" {
		ov.ReputationDB = value
	}

	if value := lookup(envScanTimeout); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return ov, fmt.Errorf("%s: %w", envScanTimeout, err)
		}
		ov.ScanTimeout = parsed
	}

	if value := lookup(envLogLevel); value != "" {
		ov.LogLevel = value
	}

	if value := lookup(envLogFormat); value != "" {
		ov.LogFormat = value
	}

	if value := lookup(envMetricsFile); value != "" {
		ov.MetricsFile = value
	}

	return ov, nil
}

func credentialsFrom(lookup func(string) string) Credentials {
	return Credentials{
		VirusTotalKey:   lookup(EnvVirusTotalKey),
		SafeBrowsingKey: lookup(EnvSafeBrowsingKey),
		URLhausKey:      lookup(EnvURLhausKey),
		AbuseIPDBKey:    lookup(EnvAbuseIPDBKey),
		AzureEndpoint:   lookup(EnvAzureEndpoint),
		AzureKey:        lookup(EnvAzureKey),
		AzureDeployment: lookup(EnvAzureDeployment),
	}
}

// readEnvFile loads KEY=value pairs without touching the process environment.
// A missing file is only an error when it was configured explicitly.
func readEnvFile(path string, explicit bool) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	if !fileExists(path) {
		if explicit {
			return nil, fmt.Errorf("env file %s not found", path)
		}
		return map[string]string{}, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return vars, nil
}

// ParseDetectors splits a comma separated detector list. Entries may carry a
// timeout as name=duration; an unparsable duration is ignored.
func ParseDetectors(input string) []DetectorSetting {
	var out []DetectorSetting
	for _, part := range splitOnDelimiters(input, []rune{',', '\n', '\r', ' '}) {
		name, bound, _ := strings.Cut(part, "=")
		setting := DetectorSetting{Name: strings.ToLower(strings.TrimSpace(name))}
		if bound != "" {
			if d, err := time.ParseDuration(bound); err == nil {
				setting.Timeout = d
			}
		}
		if setting.Name != "" {
			out = append(out, setting)
		}
	}
	return out
}

// ParseFormats splits comma separated format strings.
func ParseFormats(input string) []string {
	return normalizeFormats(splitOnDelimiters(input, []rune{',', '\n', '\r', ' '}))
}

func normalizeFormats(values []string) []string {
	var out []string
	for _, v := range cleanList(values) {
		out = append(out, strings.ToLower(v))
	}
	return out
}

func splitOnDelimiters(input string, delims []rune) []string {
	if input == "" {
		return nil
	}

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}

	separator := func(r rune) bool {
		for _, d := range delims {
			if r == d {
				return true
			}
		}
		return false
	}

	parts := strings.FieldsFunc(trimmed, separator)
	return cleanList(parts)
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		candidate := strings.TrimSpace(v)
		if candidate != "" {
			out = append(out, candidate)
		}
	}
	return out
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// detectorList enables YAML detector lists given as a comma separated scalar, a
// sequence of names, or a sequence of {name, timeout, enabled} maps.
type detectorList []DetectorSetting

func (d *detectorList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*d = ParseDetectors(value.Value)
	case yaml.SequenceNode:
		var out []DetectorSetting
		for _, node := range value.Content {
			switch node.Kind {
			case yaml.ScalarNode:
				out = append(out, ParseDetectors(node.Value)...)
			case yaml.MappingNode:
				var entry struct {
					Name    string        `yaml:"name"`
					Timeout time.Duration `yaml:"timeout"`
					Enabled *bool         `yaml:"enabled"`
				}
				if err := node.Decode(&entry); err != nil {
					return err
				}
				if entry.Enabled != nil && !*entry.Enabled {
					continue
				}
				name := strings.ToLower(strings.TrimSpace(entry.Name))
				if name == "" {
					return fmt.Errorf("detector entry on line %d has no name", node.Line)
				}
				out = append(out, DetectorSetting{Name: name, Timeout: entry.Timeout})
			default:
				return fmt.Errorf("unsupported YAML type for detector entry on line %d", node.Line)
			}
		}
		*d = out
	default:
		return fmt.Errorf("unsupported YAML type for detectors")
	}
	return nil
}
