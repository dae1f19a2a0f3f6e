package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", cfgFile}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestHeaderEncodeDecode(t *testing.T) {
	out, err := run(t, "K2", "header", "encode", "--mutual", "alice@example.org")
	require.NoError(t, err)
	value := strings.TrimSpace(out)
	assert.Equal(t, "addr=alice@example.org; prefer-encrypt=mutual; keydata=SzI=", value)

	out, err = run(t, "", "header", "decode", value)
	require.NoError(t, err)
	assert.Contains(t, out, "addr:           alice@example.org")
	assert.Contains(t, out, "prefer-encrypt: mutual")
	assert.Contains(t, out, "keydata:        2 bytes")
}

func TestHeaderDecode_Invalid(t *testing.T) {
	_, err := run(t, "", "header", "decode", "keydata=SzI=")
	assert.Error(t, err)
}

func TestMessageFlags(t *testing.T) {
	f := messageFlags{
		from:     "alice@example.org",
		to:       []string{"bob@example.org"},
		subject:  "Hi",
		bodyFile: "-",
		headers:  []string{"X-Mailer: acmail", "In-Reply-To: <1@example.org>"},
	}

	msg, err := f.message(strings.NewReader("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", msg.Body)
	assert.Equal(t, "acmail", msg.Headers.Get("X-Mailer"))
	assert.Equal(t, "<1@example.org>", msg.Headers.Get("In-Reply-To"))

	f.headers = []string{"no colon"}
	_, err = f.message(strings.NewReader(""))
	assert.Error(t, err)
}
