package view

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

// Manifest is the on-disk declaration of an application's materialized views
type Manifest struct {
	// SQLDir holds <name>.sql files for views without inline SQL or an explicit file.
	// Relative paths resolve against the manifest's directory.
	SQLDir string         `json:"sql_dir,omitempty"`
	Views  []ManifestView `json:"views"`
}

// ManifestView declares one view
type ManifestView struct {
	Name      string   `json:"name"`
	SQL       string   `json:"sql,omitempty"`
	File      string   `json:"file,omitempty"`
	UniqueKey []string `json:"unique_key,omitempty"`
	// Managed defaults to true when omitted
	Managed *bool `json:"managed,omitempty"`
}

// LoadManifest reads a YAML manifest and builds a registry from it
func LoadManifest(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

// ParseManifest builds a registry from manifest YAML; baseDir anchors relative paths
func ParseManifest(data []byte, baseDir string) (*Registry, error) {
	var m Manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	sqlDir := m.SQLDir
	if sqlDir == "" {
		sqlDir = "sql"
	}
	if !filepath.IsAbs(sqlDir) {
		sqlDir = filepath.Join(baseDir, sqlDir)
	}

	registry := &Registry{views: make(map[string]*Definition, len(m.Views))}
	for _, mv := range m.Views {
		if mv.SQL != "" && mv.File != "" {
			return nil, fmt.Errorf("view %s: sql and file are mutually exclusive", mv.Name)
		}

		var source QuerySource
		switch {
		case mv.SQL != "":
			source = RawQuery{Text: mv.SQL}
		case mv.File != "":
			file := mv.File
			if !filepath.IsAbs(file) {
				file = filepath.Join(baseDir, file)
			}
			source = RawQuery{Path: file}
		default:
			source = RawQuery{Path: filepath.Join(sqlDir, mv.Name+".sql")}
		}

		managed := true
		if mv.Managed != nil {
			managed = *mv.Managed
		}

		def := &Definition{
			Name:                mv.Name,
			Query:               source,
			RequiresUniqueIndex: len(mv.UniqueKey) > 0,
			UniqueKey:           mv.UniqueKey,
			Managed:             managed,
		}
		if err := registry.Register(def); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
