package inventory

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestParseText(t *testing.T) {
	input := `
# production web tier
root@10.0.0.1:22 s3cret
deploy@web2
10.0.0.3:2222
root@10.0.0.4:22 pw extra-field

root@host:notaport pw
`
	svc := New(testLogger())
	entries, err := svc.ParseText(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "root@10.0.0.1:22", entries[0].Host.Key())
	require.NotNil(t, entries[0].Credential)
	assert.Equal(t, "s3cret", entries[0].Credential.Password)

	assert.Equal(t, "deploy@web2:22", entries[1].Host.Key())
	assert.Nil(t, entries[1].Credential)

	assert.Equal(t, "root@10.0.0.3:2222", entries[2].Host.Key())
	assert.Nil(t, entries[2].Credential)

	// more than two fields degrade to host only
	assert.Equal(t, "root@10.0.0.4:22", entries[3].Host.Key())
	assert.Nil(t, entries[3].Credential)
}

func TestParseText_Empty(t *testing.T) {
	svc := New(testLogger())
	entries, err := svc.ParseText(strings.NewReader("\n# nothing here\n"))

	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseYAML(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "from-env")

	input := `
hosts:
  - address: 10.0.0.1
  - address: web2.example.com
    user: deploy
    port: 2222
    password: hunter2
  - address: db1
    password: ${TEST_DB_PASSWORD}
  - user: nobody
  - address: bad
    port: 99999
`
	svc := New(testLogger())
	entries, err := svc.ParseYAML(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "root@10.0.0.1:22", entries[0].Host.Key())
	assert.Nil(t, entries[0].Credential)

	assert.Equal(t, "deploy@web2.example.com:2222", entries[1].Host.Key())
	require.NotNil(t, entries[1].Credential)
	assert.Equal(t, "hunter2", entries[1].Credential.Password)

	require.NotNil(t, entries[2].Credential)
	assert.Equal(t, "from-env", entries[2].Credential.Password)
}

func TestParseYAML_Invalid(t *testing.T) {
	svc := New(testLogger())
	_, err := svc.ParseYAML(strings.NewReader("hosts: [unterminated"))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parsing YAML inventory")
}

func TestLoadFile_ByExtension(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "hosts.txt")
	yml := filepath.Join(dir, "hosts.yaml")
	require.NoError(t, os.WriteFile(txt, []byte("root@a:22 pw\n"), 0o600))
	require.NoError(t, os.WriteFile(yml, []byte("hosts:\n  - address: b\n"), 0o600))

	svc := New(testLogger())

	entries, err := svc.LoadFile(txt)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "root@a:22", entries[0].Host.Key())

	entries, err = svc.LoadFile(yml)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "root@b:22", entries[0].Host.Key())
}

func TestLoadFile_NotFound(t *testing.T) {
	svc := New(testLogger())
	_, err := svc.LoadFile("/nonexistent/hosts.txt")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "opening host list")
}

func TestAppendHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	svc := New(testLogger())

	require.NoError(t, svc.AppendHost(path, models.MustParseHost("root@a"), &models.Credential{Password: "pw"}))
	require.NoError(t, svc.AppendHost(path, models.MustParseHost("deploy@b:2222"), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "root@a:22 pw\ndeploy@b:2222\n", string(data))

	// appended lines parse back
	entries, err := svc.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pw", entries[0].Credential.Password)
}
