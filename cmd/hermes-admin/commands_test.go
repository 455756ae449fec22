package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[templates]
github = '{"repo": {{ json .repository.name }}}'

[[endpoint]]
path = "/webhook/github"
template = "github"

  [[endpoint.target]]
  url = "https://ci.internal/hooks"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateConfigCommand(t *testing.T) {
	out, err := run(t, "validate-config", "--config", writeConfig(t, sample))
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid: 1 endpoints, 1 templates")

	out, err = run(t, "validate-config", "-c", writeConfig(t, sample+"\n[[endpoint]]\npath = \"/webhook/github\"\ntemplate = \"github\"\n  [[endpoint.target]]\n  url = \"http://x/1\"\n"))
	assert.ErrorIs(t, err, errInvalid)
	assert.Contains(t, out, "error: ")
}

func TestTestTemplateCommand(t *testing.T) {
	p := writeConfig(t, sample)
	out, err := run(t, "test-template", "-c", p, "--endpoint", "/webhook/github", "--payload", `{"repository":{"name":"demo"}}`)
	require.NoError(t, err)
	assert.Equal(t, "{\"repo\":\"demo\"}\n", out)

	out, err = run(t, "test-template", "-c", p, "--template", "github", "--payload", `{"repository":{"name":"x"}}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"x"`)

	_, err = run(t, "test-template", "-c", p, "--endpoint", "/webhook/github", "--payload", `{}`)
	assert.Error(t, err)

	_, err = run(t, "test-template", "-c", p, "--payload", `{}`)
	assert.ErrorContains(t, err, "--endpoint")
}

func TestListEndpointsCommand(t *testing.T) {
	out, err := run(t, "list-endpoints", "-c", writeConfig(t, sample))
	require.NoError(t, err)
	assert.Contains(t, out, "METHOD")
	assert.Contains(t, out, "/webhook/github")
	assert.Contains(t, out, "POST https://ci.internal/hooks")
}
