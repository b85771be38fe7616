// Package manifest loads goharvest job manifests.
//
// A job manifest is a YAML or JSON file describing one ingestion job. It is
// validated against an embedded JSON Schema before decoding, so unknown
// fields and wrongly typed values are rejected with a pointer to the
// offending field.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	name: product-docs
//	job:
//	  kind: DIRECTORY_SCAN
//	  source_path: ./docs
//	  destination: s3://harvest/manifests/docs.csv
//	  supported_extensions: [md, html, txt]
//	  exclude:
//	    - "**/drafts/**"
package manifest

import (
	"path/filepath"

	"github.com/3leaps/goharvest/pkg/engine"
	"github.com/3leaps/goharvest/pkg/jobregistry"
	"github.com/3leaps/goharvest/pkg/objectstore"
)

// Manifest is a validated job manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Name is a label used in logs.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Job is the job to submit.
	Job engine.JobConfig `json:"job" yaml:"job"`
}

// DefaultVersion is the current manifest schema version.
const DefaultVersion = "1.0"

// ApplyDefaults fills in default values for optional job fields.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	m.Job = m.Job.WithDefaults()
}

// ResolvePaths makes a relative source path and a relative local
// destination absolute against baseDir, usually the manifest's directory.
// Stream destinations are sink names and are left alone.
func (m *Manifest) ResolvePaths(baseDir string) {
	if baseDir == "" {
		return
	}
	if p := m.Job.SourcePath; p != "" && !filepath.IsAbs(p) {
		m.Job.SourcePath = filepath.Join(baseDir, p)
	}
	d := m.Job.Destination
	if m.Job.Kind == jobregistry.KindDirectoryScan && d != "" && !filepath.IsAbs(d) && !objectstore.IsObjectURI(d) {
		m.Job.Destination = filepath.Join(baseDir, d)
	}
}
