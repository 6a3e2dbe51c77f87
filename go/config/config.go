// Package config defines the startup configuration of the copick server: the
// set of projects to serve, each with a base-store location and an optional
// writable overlay root.
//
// Configuration is loaded exactly once at startup, validated strictly
// (unknown fields are rejected), and passed down as an immutable value. There
// is no ambient configuration singleton.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Store kinds accepted in BaseConfig.Kind.
const (
	KindFile   = "file"
	KindGCS    = "gcs"
	KindMemory = "memory"
)

// DatasetBucket is the conventional public bucket that resolves a portal
// dataset ID to a base root when the server is started with --dataset-ids
// instead of a config file.
const DatasetBucket = "cryoet-data-portal-public"

// BaseConfig locates the read-only base store of a project.
type BaseConfig struct {
	// Kind is one of "file", "gcs" or "memory".
	Kind string `json:"kind"`
	// Root is the local directory for kind "file".
	Root string `json:"root,omitempty"`
	// Bucket and Prefix locate the data for kind "gcs".
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// OverlayConfig locates the writable overlay root of a project. A project
// without an overlay is served read-only.
type OverlayConfig struct {
	// Root is a local directory. Overlay contents, including tombstones,
	// persist as long as this directory does.
	Root string `json:"root"`
}

// ProjectConfig describes one served project.
type ProjectConfig struct {
	Name    string         `json:"name"`
	Base    BaseConfig     `json:"base"`
	Overlay *OverlayConfig `json:"overlay,omitempty"`
}

// Config is the full server configuration.
type Config struct {
	// OverlayRoot, if set, provides a default overlay location for projects
	// that do not configure their own; each project gets a subdirectory
	// named after it.
	OverlayRoot string `json:"overlay_root,omitempty"`

	Projects []ProjectConfig `json:"projects"`
}

// Load parses and validates a Config from JSON bytes.
func Load(b []byte) (Config, error) {
	var ret Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ret); err != nil {
		return ret, errors.Wrap(err, "decoding config")
	}
	if err := ret.Validate(); err != nil {
		return ret, err
	}
	return ret, nil
}

// LoadFile reads and validates a Config from a file.
func LoadFile(filename string) (Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading %s", filename)
	}
	ret, err := Load(b)
	if err != nil {
		return Config{}, errors.Wrapf(err, "loading %s", filename)
	}
	return ret, nil
}

// FromDatasetIDs builds a Config that serves each portal dataset as its own
// project named "dataset-<id>", all sharing one overlay root.
func FromDatasetIDs(ids []int, overlayRoot string) (Config, error) {
	if len(ids) == 0 {
		return Config{}, errors.New("at least one dataset ID is required")
	}
	ret := Config{
		OverlayRoot: overlayRoot,
	}
	for _, id := range ids {
		ret.Projects = append(ret.Projects, ProjectConfig{
			Name: fmt.Sprintf("dataset-%d", id),
			Base: BaseConfig{
				Kind:   KindGCS,
				Bucket: DatasetBucket,
				Prefix: fmt.Sprintf("%d", id),
			},
		})
	}
	if err := ret.Validate(); err != nil {
		return Config{}, err
	}
	return ret, nil
}

// Validate returns an error describing the first problem found.
func (c Config) Validate() error {
	if len(c.Projects) == 0 {
		return errors.New("at least one project is required")
	}
	seen := map[string]bool{}
	for i, p := range c.Projects {
		if p.Name == "" {
			return errors.Errorf("projects[%d]: name must not be empty", i)
		}
		if strings.Contains(p.Name, "/") {
			return errors.Errorf("project %q: name must not contain '/'", p.Name)
		}
		if seen[p.Name] {
			return errors.Errorf("project %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
		switch p.Base.Kind {
		case KindFile:
			if p.Base.Root == "" {
				return errors.Errorf("project %q: base.root is required for kind %q", p.Name, KindFile)
			}
		case KindGCS:
			if p.Base.Bucket == "" {
				return errors.Errorf("project %q: base.bucket is required for kind %q", p.Name, KindGCS)
			}
		case KindMemory:
			// Nothing to check.
		default:
			return errors.Errorf("project %q: unknown base.kind %q", p.Name, p.Base.Kind)
		}
		if p.Overlay != nil && p.Overlay.Root == "" {
			return errors.Errorf("project %q: overlay.root must not be empty", p.Name)
		}
	}
	return nil
}

// OverlayRootFor returns the overlay directory for the given project, or ""
// if the project has no overlay configured and is therefore read-only.
func (c Config) OverlayRootFor(p ProjectConfig) string {
	if p.Overlay != nil {
		return p.Overlay.Root
	}
	if c.OverlayRoot != "" {
		return c.OverlayRoot + "/" + p.Name
	}
	return ""
}
