package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/browsercloud/internal/endpoint"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"version", "--env-file", ""})

	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestEndpointsCommandJSON(t *testing.T) {
	t.Setenv("BROWSER_ENDPOINTS_FILE", "")
	t.Setenv("BROWSER_ENDPOINTS_JSON", `{"x":"ws://x:9222","y":"ws://y:9222"}`)

	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"endpoints", "--output", "json", "--env-file", ""})
	require.NoError(t, root.Execute())

	var got []endpoint.Endpoint
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, []endpoint.Endpoint{
		{ID: "x", Address: "ws://x:9222"},
		{ID: "y", Address: "ws://y:9222"},
	}, got)
}

func TestWriteEndpointsYAMLIsLoadable(t *testing.T) {
	t.Parallel()

	list := []endpoint.Endpoint{{ID: "a", Address: "ws://a:1"}, {ID: "b", Address: "ws://b:2"}}
	out := &bytes.Buffer{}
	require.NoError(t, writeEndpoints(out, list, "yaml"))

	parsed, err := endpoint.ParseYAML(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, list, parsed)
}

func TestWriteEndpointsTableAndUnknownFormat(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	require.NoError(t, writeEndpoints(out, []endpoint.Endpoint{{ID: "a", Address: "ws://a:1"}}, "table"))
	assert.Contains(t, out.String(), "ID")
	assert.Contains(t, out.String(), "ws://a:1")

	require.Error(t, writeEndpoints(&bytes.Buffer{}, nil, "xml"))
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BROWSERCLOUD_TEST_ENV_VALUE=from-file\n"), 0o600))
	t.Setenv("BROWSERCLOUD_TEST_ENV_VALUE", "")
	require.NoError(t, os.Unsetenv("BROWSERCLOUD_TEST_ENV_VALUE"))

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("BROWSERCLOUD_TEST_ENV_VALUE"))
}
