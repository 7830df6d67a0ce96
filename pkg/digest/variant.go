package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"
)

// Variant selects one of the SHA-2 algorithms. The zero value is invalid.
type Variant int

const (
	SHA224 Variant = iota + 1
	SHA256
	SHA384
	SHA512
)

// Variants returns every supported variant in ascending output size.
func Variants() []Variant {
	return []Variant{SHA224, SHA256, SHA384, SHA512}
}

// String returns the lowercase algorithm name, e.g. "sha256".
func (v Variant) String() string {
	switch v {
	case SHA224:
		return "sha224"
	case SHA256:
		return "sha256"
	case SHA384:
		return "sha384"
	case SHA512:
		return "sha512"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// Tag returns the name used in BSD-style checksum lines, e.g. "SHA256".
func (v Variant) Tag() string {
	return strings.ToUpper(v.String())
}

// Valid reports whether v is one of the four supported variants.
func (v Variant) Valid() bool {
	return v >= SHA224 && v <= SHA512
}

// Size returns the digest length in bytes (28, 32, 48 or 64).
func (v Variant) Size() int {
	switch v {
	case SHA224:
		return sha256.Size224
	case SHA256:
		return sha256.Size
	case SHA384:
		return sha512.Size384
	case SHA512:
		return sha512.Size
	}
	return 0
}

// HexLen returns the length of the hex-encoded digest.
func (v Variant) HexLen() int {
	return 2 * v.Size()
}

// New returns a fresh streaming hash state for v. It panics on an invalid variant.
func (v Variant) New() hash.Hash {
	switch v {
	case SHA224:
		return sha256.New224()
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	}
	panic("digest: invalid variant " + v.String())
}

// ParseVariant accepts "sha256", "SHA256" and "SHA-256" forms.
func ParseVariant(s string) (Variant, error) {
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	for _, v := range Variants() {
		if v.String() == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unsupported algorithm %q (want one of sha224, sha256, sha384, sha512)", s)
}

// VariantForHexLen returns the variant whose hex digest has n characters.
// Lengths are unique across the family.
func VariantForHexLen(n int) (Variant, bool) {
	for _, v := range Variants() {
		if v.HexLen() == n {
			return v, true
		}
	}
	return 0, false
}

// Set implements pflag.Value so a Variant can be bound directly to a flag.
func (v *Variant) Set(s string) error {
	parsed, err := ParseVariant(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Type implements pflag.Value.
func (v *Variant) Type() string {
	return "algorithm"
}
