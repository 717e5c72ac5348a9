package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/filecast/pkg/source"
)

// Input is one thing to upload.
type Input struct {
	// Ref is a local path or a source URI (s3://bucket/key).
	Ref string `json:"path" yaml:"path"`

	// DisplayName overrides the name derived from Ref.
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`

	// MIMEType overrides detection.
	MIMEType string `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
}

// ExpandInputs turns command-line arguments into inputs.
//
// Arguments containing glob metacharacters are expanded with doublestar
// (files only, sorted). A pattern with no match is kept as a literal path
// so it produces a not-found outcome instead of vanishing. Source URIs and
// plain paths pass through unchanged.
func ExpandInputs(args []string) ([]Input, error) {
	var inputs []Input
	for _, arg := range args {
		if source.Scheme(arg) != "" || !isPattern(arg) {
			inputs = append(inputs, Input{Ref: arg})
			continue
		}

		pattern := filepath.ToSlash(arg)
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid glob pattern: %s", arg)
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", arg, err)
		}
		if len(matches) == 0 {
			inputs = append(inputs, Input{Ref: arg})
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			inputs = append(inputs, Input{Ref: m})
		}
	}
	return inputs, nil
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// Manifest is a batch upload list.
type Manifest struct {
	Files []Input `json:"files" yaml:"files"`
}

// LoadManifest reads a batch upload manifest.
//
// The format is determined by extension: .json for JSON, .yaml/.yml for
// YAML. Other extensions try YAML, then JSON. Relative paths resolve
// against the manifest's directory.
func LoadManifest(path string) ([]Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	inputs, err := ParseManifest(data, path)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range inputs {
		ref := inputs[i].Ref
		if source.Scheme(ref) == "" && !filepath.IsAbs(ref) {
			inputs[i].Ref = filepath.Join(base, ref)
		}
	}
	return inputs, nil
}

// ParseManifest parses manifest bytes. The path is used for format
// detection and messages only.
func ParseManifest(data []byte, path string) ([]Input, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
		}
	default:
		yamlErr := yaml.Unmarshal(data, &m)
		if yamlErr != nil {
			if jsonErr := json.Unmarshal(data, &m); jsonErr != nil {
				return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", yamlErr)
			}
		}
	}

	if len(m.Files) == 0 {
		return nil, errors.New("manifest lists no files")
	}
	for i, in := range m.Files {
		if strings.TrimSpace(in.Ref) == "" {
			return nil, fmt.Errorf("manifest files[%d]: path is required", i)
		}
	}
	return m.Files, nil
}
