// Package dataset loads bulk app records from public App Store dataset
// archives and CSV files.
package dataset

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Spec describes one dataset in the manifest.
type Spec struct {
	// Name identifies the dataset in collect requests and snapshots.
	Name string `yaml:"name"`

	// URL is the archive or CSV download location. Optional for
	// datasets ingested only through the drop directory.
	URL string `yaml:"url,omitempty"`

	// Files are doublestar globs selecting CSV files inside the
	// archive or drop directory.
	Files []string `yaml:"files"`

	// Profile names the column-mapping profile for the CSV files.
	Profile string `yaml:"profile"`
}

// Manifest is the dataset configuration file.
type Manifest struct {
	Datasets []Spec `yaml:"datasets"`
}

// LoadManifest reads and validates a YAML manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every dataset spec.
func (m *Manifest) Validate() error {
	if len(m.Datasets) == 0 {
		return fmt.Errorf("manifest has no datasets")
	}
	seen := make(map[string]bool)
	for i, spec := range m.Datasets {
		if spec.Name == "" {
			return fmt.Errorf("dataset %d: name is required", i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("dataset %q: duplicate name", spec.Name)
		}
		seen[spec.Name] = true

		if _, ok := LookupProfile(spec.Profile); !ok {
			return fmt.Errorf("dataset %q: unknown profile %q", spec.Name, spec.Profile)
		}
		if len(spec.Files) == 0 {
			return fmt.Errorf("dataset %q: at least one file glob is required", spec.Name)
		}
		for _, glob := range spec.Files {
			if !doublestar.ValidatePattern(glob) {
				return fmt.Errorf("dataset %q: invalid file glob %q", spec.Name, glob)
			}
		}
	}
	return nil
}

// Lookup returns the spec with the given name.
func (m *Manifest) Lookup(name string) (Spec, bool) {
	for _, spec := range m.Datasets {
		if spec.Name == name {
			return spec, true
		}
	}
	return Spec{}, false
}

// MatchFile reports whether a relative path matches any of the spec's
// file globs.
func (s Spec) MatchFile(relPath string) bool {
	for _, glob := range s.Files {
		if ok, err := doublestar.Match(glob, relPath); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultManifest covers the two public App Store datasets the loader
// ships profiles for.
func DefaultManifest() *Manifest {
	return &Manifest{
		Datasets: []Spec{
			{
				Name:    "apple-store-10k",
				URL:     "https://www.kaggle.com/api/v1/datasets/download/ramamet4/app-store-apple-data-set-10k-apps",
				Files:   []string{"**/AppleStore.csv"},
				Profile: ProfileAppleStore10K,
			},
			{
				Name:    "appstore-apps",
				URL:     "https://www.kaggle.com/api/v1/datasets/download/gauthamp10/apple-appstore-apps",
				Files:   []string{"**/*.csv"},
				Profile: ProfileAppStoreApps,
			},
		},
	}
}
