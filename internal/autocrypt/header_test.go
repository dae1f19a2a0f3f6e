package autocrypt

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var k1 = []byte{0x99, 0x01, 0x0d, 0x04, 0x5a, 0xff, 0x00, 0x10}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr string
		key  []byte
		pref Preference
	}{
		{"mutual", "a@example.org", k1, Mutual},
		{"nopreference", "b@example.org", k1, NoPreference},
		{"mixed case addr", "Alice.Smith@Example.ORG", []byte("k"), Mutual},
		{"large key", "c@example.org", make([]byte, 4096), NoPreference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Encode(tt.addr, tt.key, tt.pref)
			require.NoError(t, err)
			assert.NotContains(t, v, "\n")

			h, err := Decode(v)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, h.Addr)
			assert.Equal(t, tt.key, h.KeyData)
			assert.Equal(t, tt.pref, h.PreferEncrypt)
			assert.Equal(t, Normal, h.Type)
		})
	}
}

func TestEncode_AttributeOrder(t *testing.T) {
	v, err := Encode("a@example.org", k1, Mutual)
	require.NoError(t, err)
	assert.Equal(t,
		"addr=a@example.org; prefer-encrypt=mutual; keydata="+base64.StdEncoding.EncodeToString(k1),
		v)

	v, err = Encode("a@example.org", k1, NoPreference)
	require.NoError(t, err)
	assert.Equal(t, "addr=a@example.org; keydata="+base64.StdEncoding.EncodeToString(k1), v)
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name string
		addr string
		key  []byte
		want error
	}{
		{"empty addr", "", k1, ErrInvalidAddress},
		{"no at sign", "example.org", k1, ErrInvalidAddress},
		{"empty local part", "@example.org", k1, ErrInvalidAddress},
		{"empty domain", "a@", k1, ErrInvalidAddress},
		{"display name", "Alice <a@example.org>", k1, ErrInvalidAddress},
		{"nil key", "a@example.org", nil, ErrEmptyKeyMaterial},
		{"empty key", "a@example.org", []byte{}, ErrEmptyKeyMaterial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.addr, tt.key, Mutual)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecode_MissingRequired(t *testing.T) {
	key := "keydata=" + base64.StdEncoding.EncodeToString(k1)
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"addr only", "addr=a@example.org"},
		{"addr and preference", "addr=a@example.org; prefer-encrypt=mutual"},
		{"keydata only", key},
		{"keydata and preference", "prefer-encrypt=mutual; " + key},
		{"extra attribute only", "_comment=hello"},
		{"empty addr", "addr=; " + key},
		{"empty keydata", "addr=a@example.org; keydata="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.value)
			assert.ErrorIs(t, err, ErrMalformedHeader)
		})
	}
}

func TestDecode_InvalidKeyEncoding(t *testing.T) {
	_, err := Decode("addr=a@example.org; keydata=!!not-base64!!")
	assert.ErrorIs(t, err, ErrInvalidKeyEncoding)
}

func TestDecode_Tolerance(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString(k1)
	folded := enc[:4] + "\r\n " + enc[4:]

	h, err := Decode("  keydata=" + folded + " ;ADDR = a@example.org ; _note=x; ")
	require.NoError(t, err)
	assert.Equal(t, "a@example.org", h.Addr)
	assert.Equal(t, k1, h.KeyData)
	assert.Equal(t, NoPreference, h.PreferEncrypt)
	assert.Equal(t, []Attribute{{Key: "_note", Value: "x"}}, h.Extra)
}

func TestDecode_UnknownCriticalAttribute(t *testing.T) {
	_, err := Decode("addr=a@example.org; future=1; keydata=" + base64.StdEncoding.EncodeToString(k1))
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestDecode_PreferEncryptValues(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(k1)
	for in, want := range map[string]Preference{
		"mutual":       Mutual,
		"MUTUAL":       Mutual,
		"nopreference": NoPreference,
		"reset":        NoPreference,
	} {
		h, err := Decode("addr=a@example.org; prefer-encrypt=" + in + "; keydata=" + key)
		require.NoError(t, err, in)
		assert.Equal(t, want, h.PreferEncrypt, in)
	}
}

func TestDecodeGossip(t *testing.T) {
	v, err := EncodeGossip("b@example.org", k1)
	require.NoError(t, err)
	assert.False(t, strings.Contains(v, "prefer-encrypt"))

	h, err := DecodeGossip(v)
	require.NoError(t, err)
	assert.Equal(t, Gossip, h.Type)
	assert.Equal(t, "b@example.org", h.Addr)
}

func TestHeaderDict(t *testing.T) {
	h, err := HeaderDict("a@example.org", k1, Mutual)
	require.NoError(t, err)

	v := h.Get("autocrypt")
	require.NotEmpty(t, v)
	dec, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, Mutual, dec.PreferEncrypt)

	_, err = HeaderDict("a@example.org", nil, Mutual)
	assert.ErrorIs(t, err, ErrEmptyKeyMaterial)
}

func TestSelectHeader(t *testing.T) {
	mk := func(addr string, key []byte) string {
		v, err := Encode(addr, key, Mutual)
		require.NoError(t, err)
		return v
	}

	h, err := SelectHeader("A@Example.org", []string{mk("a@example.org", k1)})
	require.NoError(t, err)
	assert.Equal(t, k1, h.KeyData)

	_, err = SelectHeader("a@example.org", []string{mk("b@example.org", k1)})
	assert.ErrorIs(t, err, ErrNoUsableHeader)

	_, err = SelectHeader("a@example.org", []string{mk("a@example.org", k1), mk("a@example.org", []byte("k2"))})
	assert.ErrorIs(t, err, ErrNoUsableHeader)

	h, err = SelectHeader("a@example.org", []string{"garbage", mk("a@example.org", k1)})
	require.NoError(t, err)
	assert.Equal(t, "a@example.org", h.Addr)

	_, err = SelectHeader("a@example.org", nil)
	assert.ErrorIs(t, err, ErrNoUsableHeader)
}

func TestSameAddr(t *testing.T) {
	assert.True(t, SameAddr("A@Example.org", " a@example.ORG"))
	assert.False(t, SameAddr("a@example.org", "b@example.org"))
}
