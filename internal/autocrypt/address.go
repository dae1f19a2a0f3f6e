package autocrypt

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateAddr checks that addr is a bare addr-spec with non-empty local
// and domain parts.
func ValidateAddr(addr string) error {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" || domain == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if err := validate.Var(addr, "required,email"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// NormalizeAddr returns the comparison form of an address. Addresses are
// stored as given but matched case-insensitively.
func NormalizeAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SameAddr reports whether a and b name the same mailbox.
func SameAddr(a, b string) bool {
	return NormalizeAddr(a) == NormalizeAddr(b)
}
