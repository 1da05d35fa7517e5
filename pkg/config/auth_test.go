package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")

	auth := Auth{
		KeyPocketConsumerKey: "12345-abcdef",
		KeyPocketAccessToken: "token-xyz",
		"other_tool_key":     "preserved",
	}
	require.NoError(t, auth.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && data[len(data)-1] == '\n', "file ends with newline")

	loaded, err := LoadAuth(path)
	require.NoError(t, err)
	assert.Equal(t, auth, loaded, "unknown keys survive the round trip")
}

func TestLoadAuth_MissingFile(t *testing.T) {
	auth, err := LoadAuth(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.NotNil(t, auth)
	assert.Empty(t, auth)
}

func TestLoadAuth_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := LoadAuth(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse auth file")
}

func TestAuth_Require(t *testing.T) {
	auth := Auth{KeyKarakeepToken: "kk-token"}

	v, err := auth.Require(KeyKarakeepToken)
	require.NoError(t, err)
	assert.Equal(t, "kk-token", v)

	_, err = auth.Require(KeyPocketAccessToken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyPocketAccessToken)
}

func TestAuth_Get(t *testing.T) {
	auth := Auth{KeyPocketBaseURL: "https://pocket.example.com"}
	assert.Equal(t, "https://pocket.example.com", auth.Get(KeyPocketBaseURL, "https://getpocket.com"))
	assert.Equal(t, "https://try.karakeep.app", auth.Get(KeyKarakeepBaseURL, "https://try.karakeep.app"))
}
