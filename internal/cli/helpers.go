package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func ensureOutputDir(path string) error {
	if path == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	return os.MkdirAll(path, 0o755)
}

// writeJSONFile writes v as indented JSON, creating the parent directory.
func writeJSONFile(path string, v interface{}, perm os.FileMode) error {
	if err := ensureOutputDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), perm)
}
