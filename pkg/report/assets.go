package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/screen-runner/pkg/core"
)

// Asset directories inside a run directory.
const (
	ScreenshotsDir = "screenshots"
	HierarchyDir   = "hierarchy"
)

// SafeName turns a scenario name into a file name.
func SafeName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	if safe == "" {
		return "unnamed"
	}
	return safe
}

// ScreenshotPath returns the relative path of a scenario's screenshot.
func ScreenshotPath(scenario string) string {
	return filepath.Join(ScreenshotsDir, SafeName(scenario)+".png")
}

// HierarchyPath returns the relative path of a scenario's page source.
func HierarchyPath(scenario string) string {
	return filepath.Join(HierarchyDir, SafeName(scenario)+".xml")
}

// SaveAttachment writes the attachment body under dir at its relative path.
func SaveAttachment(dir string, a core.Attachment) error {
	absPath := filepath.Join(dir, a.Path)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create %s directory: %w", a.Name, err)
	}
	if err := os.WriteFile(absPath, a.Body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", a.Name, err)
	}
	return nil
}
