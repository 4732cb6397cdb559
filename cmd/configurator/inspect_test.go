package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		productType, recordPath, format = "", "", "json"
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"product_type":"door","doorway_type":"single"}`), 0o644))

	out, err := run(t, "resolve", "--record", path)
	require.NoError(t, err)
	var res struct {
		ProductType string   `json:"product_type"`
		Required    []string `json:"required"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "door", res.ProductType)
	assert.Contains(t, res.Required, "door_lock_id")

	_, err = run(t, "resolve", "--product-type", "garage")
	assert.Error(t, err)
}

func TestColumnsCommand(t *testing.T) {
	out, err := run(t, "columns", "--product-type", "window")
	require.NoError(t, err)
	assert.Contains(t, out, "sash_style")
}

func TestSchemaExportCommand(t *testing.T) {
	out, err := run(t, "schema", "export", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "door_lock_id")

	_, err = run(t, "schema", "export", "--format", "xml")
	assert.Error(t, err)
}
