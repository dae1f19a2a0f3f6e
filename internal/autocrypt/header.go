package autocrypt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// Header field names.
const (
	HeaderName       = "Autocrypt"
	GossipHeaderName = "Autocrypt-Gossip"
)

// Attribute names understood by this package.
const (
	attrAddr          = "addr"
	attrPreferEncrypt = "prefer-encrypt"
	attrKeyData       = "keydata"
	attrType          = "type"
)

// Preference is the prefer-encrypt attribute of a header.
type Preference string

const (
	NoPreference Preference = "nopreference"
	Mutual       Preference = "mutual"
)

// ParsePreference maps an attribute value to a Preference. Anything other
// than "mutual" is treated as no preference.
func ParsePreference(s string) Preference {
	if strings.EqualFold(strings.TrimSpace(s), string(Mutual)) {
		return Mutual
	}
	return NoPreference
}

// HeaderType distinguishes a sender's own header from gossip about a
// co-recipient.
type HeaderType int

const (
	Normal HeaderType = iota
	Gossip
)

func (t HeaderType) String() string {
	if t == Gossip {
		return "gossip"
	}
	return "normal"
}

// Header is a decoded Autocrypt or Autocrypt-Gossip header.
type Header struct {
	Addr          string
	KeyData       []byte
	PreferEncrypt Preference
	Type          HeaderType

	// Extra holds non-critical attributes (those prefixed with "_") in
	// the order they appeared. They are kept but carry no meaning here.
	Extra []Attribute
}

// Attribute is a single key=value pair of a header value.
type Attribute struct {
	Key   string
	Value string
}

// Encode renders an Autocrypt header value. The prefer-encrypt attribute
// is only written for Mutual, as a missing attribute already means no
// preference.
func Encode(addr string, keydata []byte, pref Preference) (string, error) {
	if err := ValidateAddr(addr); err != nil {
		return "", err
	}
	if len(keydata) == 0 {
		return "", ErrEmptyKeyMaterial
	}

	attrs := make([]string, 0, 3)
	attrs = append(attrs, attrAddr+"="+addr)
	if pref == Mutual {
		attrs = append(attrs, attrPreferEncrypt+"="+string(Mutual))
	}
	attrs = append(attrs, attrKeyData+"="+base64.StdEncoding.EncodeToString(keydata))

	return strings.Join(attrs, "; "), nil
}

// EncodeGossip renders an Autocrypt-Gossip header value for a
// co-recipient.
func EncodeGossip(addr string, keydata []byte) (string, error) {
	return Encode(addr, keydata, NoPreference)
}

// String renders h with Encode. Invalid headers render as "".
func (h *Header) String() string {
	s, err := Encode(h.Addr, h.KeyData, h.PreferEncrypt)
	if err != nil {
		return ""
	}
	return s
}

// Decode parses an Autocrypt header value.
func Decode(value string) (*Header, error) {
	return decode(value, Normal)
}

// DecodeGossip parses an Autocrypt-Gossip header value.
func DecodeGossip(value string) (*Header, error) {
	return decode(value, Gossip)
}

func decode(value string, typ HeaderType) (*Header, error) {
	h := &Header{
		PreferEncrypt: NoPreference,
		Type:          typ,
	}

	var haveAddr, haveKey bool
	var keydata string

	for _, raw := range strings.Split(value, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		k, v, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("%w: attribute %q has no value", ErrMalformedHeader, raw)
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)

		switch k {
		case attrAddr:
			h.Addr = v
			haveAddr = v != ""
		case attrKeyData:
			keydata = v
			haveKey = v != ""
		case attrPreferEncrypt:
			h.PreferEncrypt = ParsePreference(v)
		case attrType:
			// Only type=1 (OpenPGP) is defined.
			if v != "1" {
				return nil, fmt.Errorf("%w: unsupported type %q", ErrMalformedHeader, v)
			}
		default:
			if !strings.HasPrefix(k, "_") {
				return nil, fmt.Errorf("%w: unknown critical attribute %q", ErrMalformedHeader, k)
			}
			h.Extra = append(h.Extra, Attribute{Key: k, Value: v})
		}
	}

	if !haveAddr {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedHeader, attrAddr)
	}
	if !haveKey {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedHeader, attrKeyData)
	}

	key, err := base64.StdEncoding.DecodeString(stripSpace(keydata))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: keydata decodes to nothing", ErrInvalidKeyEncoding)
	}
	h.KeyData = key

	return h, nil
}

// stripSpace removes folding whitespace that transports insert into long
// keydata values.
func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

// HeaderDict returns the extra headers that announce addr's key on an
// outgoing message.
func HeaderDict(addr string, keydata []byte, pref Preference) (textproto.Header, error) {
	var h textproto.Header
	v, err := Encode(addr, keydata, pref)
	if err != nil {
		return h, err
	}
	h.Set(HeaderName, v)
	return h, nil
}

// SelectHeader picks the Autocrypt header that applies to a message sent
// by from. A message qualifies only if it carries exactly one valid header
// whose addr matches from; anything else yields ErrNoUsableHeader.
func SelectHeader(from string, values []string) (*Header, error) {
	var found *Header
	for _, v := range values {
		h, err := Decode(v)
		if err != nil {
			continue
		}
		if !SameAddr(h.Addr, from) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: more than one header for %s", ErrNoUsableHeader, from)
		}
		found = h
	}
	if found == nil {
		return nil, ErrNoUsableHeader
	}
	return found, nil
}
