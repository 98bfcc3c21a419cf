package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureOutputDir(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*testing.T) string
		wantError bool
	}{
		{
			name:      "empty path returns error",
			setup:     func(*testing.T) string { return "" },
			wantError: true,
		},
		{
			name: "nested directory creation",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "level1", "level2")
			},
		},
		{
			name: "directory already exists",
			setup: func(t *testing.T) string {
				return t.TempDir()
			},
		},
		{
			name: "parent is a file",
			setup: func(t *testing.T) string {
				file := filepath.Join(t.TempDir(), "plain")
				if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
					t.Fatalf("setup failed: %v", err)
				}
				return filepath.Join(file, "child")
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setup(t)
			err := ensureOutputDir(path)

			if tt.wantError {
				if err == nil {
					t.Errorf("ensureOutputDir() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("ensureOutputDir() unexpected error = %v", err)
			}
			info, err := os.Stat(path)
			if err != nil || !info.IsDir() {
				t.Errorf("directory not created: %v", err)
			}
		})
	}
}

func TestWriteJSONFileCreatesParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "summary.json")

	if err := writeJSONFile(path, map[string]int{"verdicts": 2}, 0o600); err != nil {
		t.Fatalf("writeJSONFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["verdicts"] != 2 {
		t.Fatalf("unexpected content %s", data)
	}
	if data[len(data)-1] != '\n' {
		t.Fatalf("expected trailing newline")
	}
}
