package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Limits on what the loader accepts from disk and the environment
const (
	maxFileSize  = 1 << 20
	maxJSONDepth = 32
	maxEnvVarLen = 4096
	maxPathLen   = 4096
)

var configExtensions = []string{".json", ".yaml", ".yml"}

// validateConfigPath rejects empty or oversized paths, parent references
// that survive cleaning, and files that are not JSON or YAML.
func validateConfigPath(path string) error {
	switch {
	case path == "":
		return stderrors.New("empty config path")
	case len(path) > maxPathLen:
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	case slices.Contains(strings.Split(filepath.ToSlash(filepath.Clean(path)), "/"), ".."):
		return fmt.Errorf("path traversal not allowed: %s", path)
	case !slices.Contains(configExtensions, strings.ToLower(filepath.Ext(path))):
		return fmt.Errorf("unsupported config file type %q: %s", filepath.Ext(path), path)
	}
	return nil
}

// safeReadFile reads at most maxFileSize bytes from a regular file
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("config file larger than %d bytes: %s", maxFileSize, path)
	}
	return data, nil
}

// validateEnvVar rejects override values no subject, URL or secret can hold
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsAny(value, "\x00\r\n") {
		return fmt.Errorf("control character in environment variable %s", key)
	}
	return nil
}

// validateJSONDepth walks the token stream and fails on nesting deeper than
// maxJSONDepth or on unbalanced brackets, before the document is decoded.
func validateJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed JSON: %w", err)
		}

		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: more than %d levels", maxJSONDepth)
			}
		case '}', ']':
			depth--
		}
	}
	if depth != 0 {
		return fmt.Errorf("malformed JSON: %d unclosed brackets", depth)
	}
	return nil
}
