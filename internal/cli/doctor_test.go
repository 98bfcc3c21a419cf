package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/threatlens/internal/config"
)

func clearCredentials(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvVirusTotalKey, config.EnvSafeBrowsingKey, config.EnvURLhausKey, config.EnvAbuseIPDBKey,
		config.EnvAzureEndpoint, config.EnvAzureKey, config.EnvAzureDeployment,
	} {
		t.Setenv(key, "")
	}
}

func doctorConfig(t *testing.T, detectors ...string) config.RuntimeConfig {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultRuntimeConfig()
	cfg.OutputDir = filepath.Join(root, "results")
	cfg.StagingDir = filepath.Join(root, "staging")
	cfg.ReputationDB = filepath.Join(root, "reputation.db")
	cfg.Detectors = nil
	for _, name := range detectors {
		cfg.Detectors = append(cfg.Detectors, config.DetectorSetting{Name: name})
	}
	return cfg
}

func findCheck(t *testing.T, checks []doctorCheck, name string) doctorCheck {
	t.Helper()
	for _, c := range checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found in %+v", name, checks)
	return doctorCheck{}
}

func TestRunDoctorChecksBaseline(t *testing.T) {
	cfg := doctorConfig(t, config.DetectorReputation, config.DetectorURLHeuristics)

	checks := runDoctorChecks(context.Background(), &cfg, &stubRunner{})

	for _, name := range []string{"Go Runtime", "Configuration", "Output Directory", "Staging Directory", "Reputation Database"} {
		if c := findCheck(t, checks, name); c.Status != "✓" {
			t.Fatalf("%s should pass, got %+v", name, c)
		}
	}
	if c := findCheck(t, checks, "Configuration"); !strings.Contains(c.Detail, "reputation, url-heuristics") {
		t.Fatalf("configuration detail should list detectors, got %q", c.Detail)
	}
	for _, c := range checks {
		if strings.HasPrefix(c.Name, "Credentials:") || c.Name == "ffprobe Binary" {
			t.Fatalf("unselected detectors should not be checked: %+v", c)
		}
	}
}

func TestRunDoctorChecksMissingCredentialsAreSkipped(t *testing.T) {
	clearCredentials(t)
	cfg := doctorConfig(t, config.DetectorVirusTotal, config.DetectorAbuseIPDB, config.DetectorSiteContent, config.DetectorAIContent)
	cfg.Credentials.AzureEndpoint = "https://example.openai.azure.com"

	checks := runDoctorChecks(context.Background(), &cfg, &stubRunner{})

	vt := findCheck(t, checks, "Credentials: virustotal")
	if vt.Status != "⊘" || vt.Error != nil || !strings.Contains(vt.Detail, config.EnvVirusTotalKey) {
		t.Fatalf("unexpected virustotal check %+v", vt)
	}

	if c := findCheck(t, checks, "Credentials: abuseipdb"); c.Status != "⊘" || !strings.Contains(c.Detail, config.EnvAbuseIPDBKey) {
		t.Fatalf("unexpected abuseipdb check %+v", c)
	}
	for _, c := range checks {
		if c.Name == "Credentials: site-content" {
			t.Fatalf("site-content needs no credentials: %+v", c)
		}
	}

	ai := findCheck(t, checks, "Credentials: ai-content")
	if ai.Status != "⊘" || strings.Contains(ai.Detail, config.EnvAzureEndpoint) {
		t.Fatalf("ai-content should only list missing variables, got %+v", ai)
	}
	if !strings.Contains(ai.Detail, config.EnvAzureKey) || !strings.Contains(ai.Detail, config.EnvAzureDeployment) {
		t.Fatalf("ai-content should name the missing variables, got %q", ai.Detail)
	}

	cfg.Credentials.VirusTotalKey = "secret"
	checks = runDoctorChecks(context.Background(), &cfg, &stubRunner{})
	if c := findCheck(t, checks, "Credentials: virustotal"); c.Status != "✓" {
		t.Fatalf("configured key should pass, got %+v", c)
	}
}

func TestRunDoctorChecksTools(t *testing.T) {
	cfg := doctorConfig(t, config.DetectorCodec, "stegtool")
	cfg.Commands = []config.CommandConfig{{Name: "stegtool", Command: "stegtool", Kinds: []string{"file"}}}

	runner := &stubRunner{stdout: "ffprobe version 6.1.1 Copyright (c) 2007-2023\nbuilt with gcc"}
	checks := runDoctorChecks(context.Background(), &cfg, runner)

	ff := findCheck(t, checks, "ffprobe Binary")
	if ff.Status != "✓" || ff.Detail != "ffprobe version 6.1.1 Copyright (c) 2007-2023" {
		t.Fatalf("unexpected ffprobe check %+v", ff)
	}
	if tool := findCheck(t, checks, "Tool: stegtool"); tool.Status != "✓" {
		t.Fatalf("tool should be found, got %+v", tool)
	}

	runner = &stubRunner{missing: map[string]bool{"ffprobe": true, "stegtool": true}}
	checks = runDoctorChecks(context.Background(), &cfg, runner)

	ff = findCheck(t, checks, "ffprobe Binary")
	if ff.Status != "⊘" || ff.Error != nil {
		t.Fatalf("missing ffprobe should be skipped, got %+v", ff)
	}
	tool := findCheck(t, checks, "Tool: stegtool")
	if tool.Status != "✗" || tool.Error == nil {
		t.Fatalf("missing tool should fail, got %+v", tool)
	}
}

func TestRunDoctorChecksInvalidConfiguration(t *testing.T) {
	cfg := doctorConfig(t, config.DetectorLSB)
	cfg.Formats = []string{"xml"}

	checks := runDoctorChecks(context.Background(), &cfg, &stubRunner{})
	c := findCheck(t, checks, "Configuration")
	if c.Status != "✗" || c.Error == nil {
		t.Fatalf("expected configuration failure, got %+v", c)
	}
}

func TestDoctorCommandReportsFailure(t *testing.T) {
	cfgPath := writeConfig(t, `
detectors: [stegtool]
commands:
  - name: stegtool
    command: stegtool
    kinds: [image]
`)
	root := t.TempDir()
	loader := &config.Loader{ConfigPath: cfgPath}
	cmd := newDoctorCmdWith(loader, &stubRunner{missing: map[string]bool{"stegtool": true}})

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--output-dir", filepath.Join(root, "results"), "--staging-dir", filepath.Join(root, "staging")})

	err := cmd.Execute()
	if err == nil || err.Error() != "doctor checks failed" {
		t.Fatalf("expected doctor failure, got %v", err)
	}
	if !strings.Contains(out.String(), "Running environment diagnostics...") {
		t.Fatalf("missing report header: %s", out.String())
	}
	if !strings.Contains(out.String(), "✗ Tool: stegtool:") {
		t.Fatalf("missing tool line: %s", out.String())
	}
	if !strings.Contains(errOut.String(), "Error:") {
		t.Fatalf("error details should go to stderr: %s", errOut.String())
	}
}

func TestDoctorCommandPasses(t *testing.T) {
	root := t.TempDir()
	loader := &config.Loader{ConfigPath: filepath.Join(root, "missing.yml")}
	cmd := newDoctorCmdWith(loader, &stubRunner{})

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--detectors", "url-heuristics,lsb",
		"--output-dir", filepath.Join(root, "results"),
		"--staging-dir", filepath.Join(root, "staging"),
	})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("doctor failed: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "All checks passed") {
		t.Fatalf("expected success line, got %s", out.String())
	}
}

func TestRunDoctorChecksStagingRoundTrip(t *testing.T) {
	cfg := doctorConfig(t, config.DetectorLSB)

	checks := runDoctorChecks(context.Background(), &cfg, &stubRunner{})
	c := findCheck(t, checks, "Staging Directory")
	if c.Status != "✓" || c.Detail != cfg.StagingDir {
		t.Fatalf("unexpected staging check %+v", c)
	}

	entries, err := os.ReadDir(cfg.StagingDir)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging check should not leave files behind, found %d", len(entries))
	}
}

func TestRunDoctorChecksStagingDirIsAFile(t *testing.T) {
	cfg := doctorConfig(t, config.DetectorLSB)
	if err := os.WriteFile(cfg.StagingDir, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	checks := runDoctorChecks(context.Background(), &cfg, &stubRunner{})
	if c := findCheck(t, checks, "Staging Directory"); c.Status != "✗" || c.Error == nil {
		t.Fatalf("expected staging failure, got %+v", c)
	}
}
