package view

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	data := []byte(`
sql_dir: queries
views:
  - name: order_totals
    sql: SELECT customer_id, sum(total) AS total FROM orders GROUP BY customer_id
    unique_key: [customer_id]
  - name: top_customers
    file: custom/top.sql
  - name: legacy_report
    managed: false
`)

	registry, err := ParseManifest(data, "/app")
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy_report", "order_totals", "top_customers"}, registry.Names())

	totals, ok := registry.Get("order_totals")
	require.True(t, ok)
	assert.True(t, totals.RequiresUniqueIndex)
	assert.Equal(t, []string{"customer_id"}, totals.UniqueKey)
	assert.True(t, totals.Managed)
	assert.Equal(t, "inline SQL", totals.Query.Describe())

	top, _ := registry.Get("top_customers")
	assert.Equal(t, filepath.Join("/app", "custom/top.sql"), top.Query.Describe())
	assert.False(t, top.RequiresUniqueIndex)

	legacy, _ := registry.Get("legacy_report")
	assert.False(t, legacy.Managed)
	assert.Equal(t, filepath.Join("/app", "queries", "legacy_report.sql"), legacy.Query.Describe())
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"sql and file", "views:\n  - name: v\n    sql: SELECT 1\n    file: v.sql\n"},
		{"unknown field", "views:\n  - name: v\n    query: SELECT 1\n"},
		{"duplicate", "views:\n  - name: v\n    sql: SELECT 1\n  - name: v\n    sql: SELECT 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data), "/app")
			assert.Error(t, err)
		})
	}
}
