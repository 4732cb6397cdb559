package schema

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Export writes the registry snapshot in the given format ("yaml" or "json").
func (r *Registry) Export(w io.Writer, format string) error {
	snap := r.Snapshot()
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding schema yaml: %w", err)
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding schema json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// ParseSnapshot reads a YAML (or JSON, which is valid YAML) snapshot and
// builds a registry from it.
func ParseSnapshot(data []byte) (*Registry, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding schema snapshot: %w", err)
	}
	return New(snap.ProductTypes, snap.Measurements, snap.Sections)
}
