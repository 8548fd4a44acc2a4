package script

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// endpointDirectiveRegex matches the optional @endpoint directive naming the endpoint
var endpointDirectiveRegex = regexp.MustCompile(`(?m)^//\s*@endpoint\s+(\S+)`)

// LoadFile compiles one script. The endpoint is named by its @endpoint directive, or by the file
// name without extension.
func LoadFile(path string, timeout time.Duration, logger zerolog.Logger) (*Endpoint, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	source := string(content)

	name := strings.TrimSuffix(filepath.Base(path), ".js")
	if m := endpointDirectiveRegex.FindStringSubmatch(source); len(m) >= 2 {
		name = m[1]
	}

	e, err := Compile(name, source, timeout, logger)
	if err != nil {
		return nil, err
	}
	e.file = path
	return e, nil
}

// LoadDirectory compiles every .js file in dir, in file name order. A missing directory yields no
// endpoints; scripts that fail to load are logged and skipped.
func LoadDirectory(dir string, timeout time.Duration, logger zerolog.Logger) ([]*Endpoint, error) {
	logger = logger.With().Str("component", "script-loader").Logger()

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		logger.Warn().Str("directory", dir).Msg("scripts directory does not exist")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat scripts directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scripts path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scripts directory: %w", err)
	}

	var endpoints []*Endpoint
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}

		e, err := LoadFile(filepath.Join(dir, entry.Name()), timeout, logger)
		if err != nil {
			logger.Error().Err(err).Str("file", entry.Name()).Msg("failed to load script")
			continue
		}
		if seen[e.Key()] {
			logger.Error().Str("file", entry.Name()).Str("endpoint", e.Key()).Msg("duplicate endpoint name")
			continue
		}
		seen[e.Key()] = true
		endpoints = append(endpoints, e)

		logger.Info().
			Str("endpoint", e.Key()).
			Str("file", entry.Name()).
			Msg("script endpoint loaded")
	}

	logger.Info().
		Int("loaded", len(endpoints)).
		Str("directory", dir).
		Msg("scripts loaded")

	return endpoints, nil
}
