package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Trait declares whether the host reuses a module instance across
// artifacts (Reactor) or re-instantiates it per artifact (Command).
type Trait string

const (
	TraitReactor Trait = "reactor"
	TraitCommand Trait = "command"
)

// Transport selects which host-call convention a module uses. A module
// picks exactly one.
type Transport string

const (
	TransportDirect Transport = "direct"
	TransportVFS    Transport = "vfs"
)

// manifest is the optional module.yaml sidecar beside a compiled module.
type manifest struct {
	Name       string `yaml:"name"`
	Trait      Trait  `yaml:"trait"`
	Transport  string `yaml:"transport"`
	APIVersion string `yaml:"api_version"`
}

// loadManifest reads "<wasmPath without extension>.yaml" if present.
// Its absence is not an error; callers fall back to Reactor/Direct.
func loadManifest(wasmPath string) (manifest, error) {
	path := wasmPath[:len(wasmPath)-len(filepath.Ext(wasmPath))] + ".yaml"
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return manifest{Trait: TraitReactor, Transport: string(TransportDirect)}, nil
	}
	if err != nil {
		return manifest{}, fmt.Errorf("runtime: reading manifest %s: %w", path, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("runtime: parsing manifest %s: %w", path, err)
	}
	if m.Trait == "" {
		m.Trait = TraitReactor
	}
	if m.Transport == "" {
		m.Transport = string(TransportDirect)
	}
	if m.APIVersion != "" && !semver.IsValid(m.APIVersion) {
		return manifest{}, fmt.Errorf("runtime: manifest %s: invalid api_version %q", path, m.APIVersion)
	}
	return m, nil
}
