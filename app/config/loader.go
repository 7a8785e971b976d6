package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and validation of the YAML input files.
type Loader struct {
	inputDir string
}

// NewLoader creates a loader reading from inputDir.
func NewLoader(inputDir string) *Loader {
	return &Loader{inputDir: inputDir}
}

// LoadSites reads sites.yaml and validates every entry.
func (l *Loader) LoadSites() ([]Site, error) {
	path := filepath.Join(l.inputDir, "sites.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file sitesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	for i, site := range file.Sites {
		if err := validateSite(site); err != nil {
			return nil, fmt.Errorf("invalid site #%d in %s: %w", i+1, path, err)
		}
	}

	slog.Info("Loaded site configurations", "path", path, "sites", len(file.Sites))
	return file.Sites, nil
}

// LoadKeywords reads keywords.yaml mapping recipient emails to keywords.
func (l *Loader) LoadKeywords() (Keywords, error) {
	path := filepath.Join(l.inputDir, "keywords.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file keywordsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if len(file.Keywords) == 0 {
		return nil, fmt.Errorf("no 'keywords' entries found in %s", path)
	}

	for email, keywords := range file.Keywords {
		if !strings.Contains(email, "@") {
			return nil, fmt.Errorf("invalid recipient %q in %s", email, path)
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("recipient %q has no keywords in %s", email, path)
		}
	}

	slog.Info("Loaded recipient keywords", "path", path, "recipients", len(file.Keywords))
	return file.Keywords, nil
}

func validateSite(site Site) error {
	if site.Name == "" {
		return fmt.Errorf("missing name")
	}
	if site.URL == "" {
		return fmt.Errorf("missing url")
	}
	switch site.Type {
	case "rss", "html":
	default:
		return fmt.Errorf("type must be rss or html, got %q", site.Type)
	}
	return nil
}
