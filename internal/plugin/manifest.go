// Package plugin implements the Plugin & Component Registry: plugin
// manifests, their dependency declarations, lifecycle hooks, and the
// registry every loaded component (action, command, tool, event
// handler, interest calculator, prompt) is looked up through.
package plugin

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Dependency describes one entry in a plugin manifest's dependency
// list: the name the plugin imports it under, the acceptable version
// range, the name used to auto-install it, and whether its absence is
// tolerated.
type Dependency struct {
	ImportName  string `yaml:"import_name"`
	MinVersion  string `yaml:"min_version"`
	InstallName string `yaml:"install_name"`
	Optional    bool   `yaml:"optional"`
	Description string `yaml:"description"`
}

// Manifest is a plugin's declared identity, dependencies, and
// default configuration schema, parsed from a plugin's manifest.yaml.
type Manifest struct {
	Name         string                 `yaml:"name"`
	Version      string                 `yaml:"version"`
	Author       string                 `yaml:"author"`
	Description  string                 `yaml:"description"`
	Dependencies []Dependency           `yaml:"dependencies"`
	ConfigSchema map[string]any         `yaml:"config_schema"`
}

// LoadManifest parses a plugin manifest from disk.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Name == "" {
		return Manifest{}, fmt.Errorf("manifest %s missing name", path)
	}
	return m, nil
}

// DependencyReport is the outcome of checking one declared dependency
// against the dependencies actually available at load time.
type DependencyReport struct {
	Dependency Dependency
	Present    bool
	// VersionUnverified is set when the dependency is present but its
	// installed version could not be compared against MinVersion (the
	// platform treats this the same as satisfied, with a warning —
	// see DESIGN.md's Open Questions).
	VersionUnverified bool
}

// CheckDependencies reports, for each declared dependency, whether it
// is present in availableVersions (import name -> installed version,
// empty string meaning "version unknown"). It never installs anything;
// auto-install is a caller policy decision driven by these reports.
func CheckDependencies(deps []Dependency, availableVersions map[string]string) []DependencyReport {
	reports := make([]DependencyReport, 0, len(deps))
	for _, d := range deps {
		version, present := availableVersions[d.ImportName]
		r := DependencyReport{Dependency: d, Present: present}
		if present && d.MinVersion != "" && version == "" {
			r.VersionUnverified = true
		}
		reports = append(reports, r)
	}
	return reports
}

// MissingRequired returns the reports for dependencies that are absent
// and not optional; a non-empty result means the plugin must not load.
func MissingRequired(reports []DependencyReport) []DependencyReport {
	var missing []DependencyReport
	for _, r := range reports {
		if !r.Present && !r.Dependency.Optional {
			missing = append(missing, r)
		}
	}
	return missing
}
