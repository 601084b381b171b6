package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// WorkDir expands ~ in dotPath, joins the optional parts and makes sure the directory exists.
func WorkDir(dotPath string, parts ...string) (string, error) {
	dir, err := homedir.Expand(filepath.Join(append([]string{dotPath}, parts...)...))
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", dotPath, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}
