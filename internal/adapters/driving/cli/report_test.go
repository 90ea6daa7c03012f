package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTemplateYAML = `name: Literature review
sections:
  - name: Background
    query_template: "background of {{.topic}}"
    instructions: Summarise prior work.
    top_k: 8
  - name: Methods
    query_template: "methods used for {{.topic}}"
    instructions: Describe the methods.
`

func TestReportCmd_HasSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range reportCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"template", "start", "status", "retry", "document"}, names)
}

func TestReportTemplateAddCmd(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	path := filepath.Join(t.TempDir(), "review.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTemplateYAML), 0o600))

	out, err := execute("report", "template", "add", path)

	require.NoError(t, err)
	assert.Contains(t, out, "Saved template Literature review (tmpl-1) with 2 sections.")
	require.Len(t, ts.reports.templates, 1)
	assert.Equal(t, 8, ts.reports.templates[0].Sections[0].TopK)
}

func TestReportTemplateAddCmd_RejectsUnknownKeys(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nsections:\n  - name: a\n    query: q\n"), 0o600))

	_, err := execute("report", "template", "add", path)

	require.Error(t, err)
	assert.Empty(t, ts.reports.templates)
}

func TestReportTemplateListCmd(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("report", "template", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No templates.")

	path := filepath.Join(t.TempDir(), "review.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTemplateYAML), 0o600))
	_, err = execute("report", "template", "add", path)
	require.NoError(t, err)

	out, err = execute("report", "template", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "tmpl-1  Literature review")
	assert.Contains(t, out, "Background, Methods")
	assert.Len(t, ts.reports.templates, 1)
}

func TestReportStartCmd_PassesParams(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("report", "start", "tmpl-1", "nb-1", "-p", "topic=retrieval", "-p", "year=2024")

	require.NoError(t, err)
	assert.Contains(t, out, "Started report gen-1 with 1 sections.")
	assert.Equal(t, map[string]string{"topic": "retrieval", "year": "2024"}, ts.reports.params)
}

func TestReportStatusCmd_ShowsSections(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("report", "status", "gen-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Report: gen-1 (Literature review)")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "Methods")
	assert.Contains(t, out, "(attempt 2)")
	assert.Contains(t, out, "provider unavailable")
}

func TestReportRetryCmd(t *testing.T) {
	tests := []struct {
		name    string
		index   string
		wantErr string
	}{
		{name: "valid", index: "1"},
		{name: "not a number", index: "one", wantErr: "invalid section index: one"},
		{name: "negative", index: "-1", wantErr: "invalid section index: -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, cleanup := setupTestServices()
			defer cleanup()

			out, err := execute("report", "retry", "gen-1", "--", tt.index)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Empty(t, ts.reports.retried)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "Section 1 of report gen-1 re-queued.")
			assert.Equal(t, []int{1}, ts.reports.retried)
		})
	}
}

func TestReportDocumentCmd_WritesFile(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	path := filepath.Join(t.TempDir(), "report.md")

	out, err := execute("report", "document", "gen-1", "-o", path)

	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Background")
}

func TestReportDocumentCmd_Stdout(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("report", "document", "gen-1")

	require.NoError(t, err)
	assert.Contains(t, out, "# Literature review")
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"topic=rag", " party =ACME Ltd", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"topic": "rag", "party": "ACME Ltd", "empty": ""}, got)

	got, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
}
