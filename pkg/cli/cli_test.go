package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

func TestParamFlags_Parse(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(file, []byte("driver: postgres\nport: 5432\ntrust_server_certificate: true\nhost: db.internal\n"), 0o600))

	p := paramFlags{
		file:  file,
		pairs: []string{"host=replica.internal", "filter=status = 'open'"},
	}
	params, err := p.parse()
	require.NoError(t, err)

	assert.Equal(t, "postgres", params["driver"])
	assert.Equal(t, 5432, params["port"])
	assert.Equal(t, true, params["trust_server_certificate"])
	// Flags override the file and keep everything after the first '='.
	assert.Equal(t, "replica.internal", params["host"])
	assert.Equal(t, "status = 'open'", params["filter"])
}

func TestParamFlags_ParseRejectsMissingEquals(t *testing.T) {
	p := paramFlags{pairs: []string{"ical_url"}}
	_, err := p.parse()
	assert.Error(t, err)

	p = paramFlags{pairs: []string{"=value"}}
	_, err = p.parse()
	assert.Error(t, err)
}

func TestParamFlags_ParseMissingFile(t *testing.T) {
	p := paramFlags{file: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err := p.parse()
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	lastError := "feed unreachable"
	ds := &models.DataSync{ID: uuid.New(), TableID: uuid.New(), Type: "ical_calendar", LastError: &lastError}
	props := []*models.DataSyncProperty{{Key: "uid", FieldID: uuid.New(), UniquePrimary: true, Immutable: true}}
	view := newDataSyncView(ds, props)

	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatYAML, view))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, ds.ID.String(), decoded["id"])
	assert.Equal(t, "ical_calendar", decoded["type"])
	assert.Equal(t, "feed unreachable", decoded["last_error"])
	assert.NotContains(t, decoded, "last_sync")

	buf.Reset()
	require.NoError(t, render(&buf, formatJSON, view))
	assert.Contains(t, buf.String(), `"unique_primary": true`)

	assert.Error(t, render(&buf, "toml", view))
}

func TestTypesCommand(t *testing.T) {
	root := NewRootCommand("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"types", "--output", "yaml"})

	require.NoError(t, root.Execute())

	var types []string
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &types))
	assert.Equal(t, []string{"github_issues", "ical_calendar", "jira_issues", "local_baserow_table", "sql_table"}, types)
}

func TestRootCommand_Tree(t *testing.T) {
	root := NewRootCommand("test")
	for _, name := range []string{"serve", "types", "properties", "create", "sync", "set-properties", "show", "list", "delete", "workspace"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestOptions_Acting(t *testing.T) {
	id := uuid.New()

	opts := &options{userID: id.String()}
	got, err := opts.acting()
	require.NoError(t, err)
	assert.Equal(t, id, got)

	t.Setenv(userEnv, id.String())
	got, err = (&options{}).acting()
	require.NoError(t, err)
	assert.Equal(t, id, got)

	t.Setenv(userEnv, "")
	_, err = (&options{}).acting()
	assert.Error(t, err)

	_, err = (&options{userID: "not-a-uuid"}).acting()
	assert.Error(t, err)
}
