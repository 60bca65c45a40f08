package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Path resolves a road-graph fixture file on disk.
type Path struct {
	File string
}

// NewPath validates that filePath exists and returns a Path wrapping it. An
// empty string is a valid "no fixture given" input and returns (nil, nil).
func NewPath(filePath string) (*Path, error) {
	if filePath == "" {
		return nil, nil
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("road graph fixture not found: %s: %w", filePath, err)
	}
	return &Path{File: filePath}, nil
}

// Abs returns the absolute form of the fixture path.
func (p *Path) Abs() string {
	abs, err := filepath.Abs(p.File)
	if err != nil {
		log.Panicf("failed to resolve absolute path of %s: %v", p.File, err)
	}
	return abs
}
