// Package version handles backend API versions and the ALPN ids derived
// from them.
package version

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Current is the API version spoken by this module.
const Current = "1.0"

const alpnPrefix = "cirrus/"

// ErrInvalidVersion is wrapped by every parse failure in this package.
var ErrInvalidVersion = errors.New("invalid API version")

// APIVersion is a "major.minor" pair. Versions sharing a major number are
// wire compatible.
type APIVersion struct {
	Major uint16
	Minor uint16
}

func Parse(s string) (APIVersion, error) {
	hi, lo, found := strings.Cut(s, ".")
	if !found {
		return APIVersion{}, fmt.Errorf("%w %q: want major.minor", ErrInvalidVersion, s)
	}
	major, err := parseComponent(hi)
	if err != nil {
		return APIVersion{}, fmt.Errorf("%w %q: major: %v", ErrInvalidVersion, s, err)
	}
	minor, err := parseComponent(lo)
	if err != nil {
		return APIVersion{}, fmt.Errorf("%w %q: minor: %v", ErrInvalidVersion, s, err)
	}
	return APIVersion{Major: major, Minor: minor}, nil
}

// parseComponent accepts plain decimal digits only, so "+1" and "1.0.0"
// (through the minor part) are rejected.
func parseComponent(s string) (uint16, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, errors.New("not a decimal number")
	}
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err
}

// MustParse panics if s does not parse.
func MustParse(s string) APIVersion {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v APIVersion) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}

// Compare orders versions by major, then minor.
func (v APIVersion) Compare(o APIVersion) int {
	return cmp.Or(cmp.Compare(v.Major, o.Major), cmp.Compare(v.Minor, o.Minor))
}

// Compatible reports whether v and o share a major version.
func (v APIVersion) Compatible(o APIVersion) bool {
	return v.Major == o.Major
}

// Negotiate picks the highest entry of offered compatible with v. Entries
// that do not parse are ignored.
func (v APIVersion) Negotiate(offered []string) (best APIVersion, ok bool) {
	for _, s := range offered {
		o, err := Parse(s)
		if err != nil || !v.Compatible(o) {
			continue
		}
		if !ok || o.Compare(best) > 0 {
			best, ok = o, true
		}
	}
	return best, ok
}

// ALPNProtocol returns "cirrus/<major>".
func ALPNProtocol(major uint16) string {
	return alpnPrefix + strconv.Itoa(int(major))
}

// MajorFromALPN is the inverse of ALPNProtocol.
func MajorFromALPN(alpn string) (uint16, error) {
	rest, ok := strings.CutPrefix(alpn, alpnPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: ALPN %q is not a cirrus protocol", ErrInvalidVersion, alpn)
	}
	major, err := parseComponent(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: ALPN %q: %v", ErrInvalidVersion, alpn, err)
	}
	return major, nil
}

// ALPNProtocols lists the ALPN ids a peer speaking v offers.
func ALPNProtocols(v APIVersion) []string {
	return []string{ALPNProtocol(v.Major)}
}

// SupportedALPNProtocols is ALPNProtocols for Current.
func SupportedALPNProtocols() []string {
	return ALPNProtocols(MustParse(Current))
}
