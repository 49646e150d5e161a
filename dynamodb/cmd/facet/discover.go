package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const schemaFilename = "facet.schema.yaml"

// skipDirs are not searched by discoverWithWalk.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".facet":       true,
	".venv":        true,
}

// DiscoverSchema finds the single facet.schema.yaml below dir. git ls-files
// is tried first and a directory walk second.
func DiscoverSchema(dir string) (string, error) {
	files, err := discoverWithGitLsFiles(dir)
	if err != nil || len(files) == 0 {
		if files, err = discoverWithWalk(dir); err != nil {
			return "", err
		}
	}
	switch len(files) {
	case 0:
		return "", fmt.Errorf("no %s found below %s, use --schema", schemaFilename, dir)
	case 1:
		return files[0], nil
	default:
		return "", fmt.Errorf("found %d schema files (%s), use --schema", len(files), strings.Join(files, ", "))
	}
}

func discoverWithGitLsFiles(dir string) ([]string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, err
	}

	// --others --exclude-standard includes untracked files that are not ignored
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if filepath.Base(line) == schemaFilename {
			files = append(files, filepath.Join(dir, line))
		}
	}
	return files, scanner.Err()
}

func discoverWithWalk(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == schemaFilename {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
