package store

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
)

// Family is the address family of an Addr, derived from its length on the wire.
type Family uint8

const (
	FamilyUnspec Family = iota
	FamilyLinkLayer
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyLinkLayer:
		return "ll"
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unspec"
	}
}

// MaxAddrLen is the longest address RFC 5444 can carry.
const MaxAddrLen = 16

// FamilyOf maps an address length to its family.
func FamilyOf(n int) Family {
	switch {
	case n == 4:
		return FamilyIPv4
	case n == 16:
		return FamilyIPv6
	case n > 0 && n <= MaxAddrLen:
		return FamilyLinkLayer
	default:
		return FamilyUnspec
	}
}

// Addr is an immutable, comparable address value.
type Addr struct {
	fam Family
	raw string
}

func AddrFrom(b []byte) Addr {
	return Addr{fam: FamilyOf(len(b)), raw: string(b)}
}

func AddrFromNetip(a netip.Addr) Addr {
	a = a.Unmap()
	return AddrFrom(a.AsSlice())
}

// ParseAddr accepts an IPv4/IPv6 literal or a link-layer address written as
// "ll:" followed by hex digits (e.g. "ll:2a" or "ll:02:00:5e:10:00:01").
func ParseAddr(s string) (Addr, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "ll:"); ok {
		b, err := hex.DecodeString(strings.ReplaceAll(rest, ":", ""))
		if err != nil {
			return Addr{}, fmt.Errorf("invalid link-layer address %q: %w", s, err)
		}
		if len(b) == 0 || len(b) > MaxAddrLen || len(b) == 4 || len(b) == 16 {
			return Addr{}, fmt.Errorf("invalid link-layer address %q: length %d", s, len(b))
		}
		return AddrFrom(b), nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return Addr{}, err
	}
	return AddrFromNetip(ip), nil
}

func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Addr) IsValid() bool {
	return a.fam != FamilyUnspec
}

func (a Addr) Family() Family {
	return a.fam
}

func (a Addr) Len() int {
	return len(a.raw)
}

func (a Addr) Bytes() []byte {
	return []byte(a.raw)
}

// Netip returns the address as an IP, if it is one.
func (a Addr) Netip() (netip.Addr, bool) {
	if a.fam != FamilyIPv4 && a.fam != FamilyIPv6 {
		return netip.Addr{}, false
	}
	return netip.AddrFromSlice([]byte(a.raw))
}

func (a Addr) String() string {
	if ip, ok := a.Netip(); ok {
		return ip.String()
	}
	if a.fam == FamilyUnspec {
		return "invalid"
	}
	parts := make([]string, len(a.raw))
	for i := 0; i < len(a.raw); i++ {
		parts[i] = hex.EncodeToString([]byte{a.raw[i]})
	}
	return "ll:" + strings.Join(parts, ":")
}

func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Addr) UnmarshalText(text []byte) error {
	parsed, err := ParseAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Compare orders addresses by family, then length, then bytes.
func (a Addr) Compare(b Addr) int {
	if a.fam != b.fam {
		if a.fam < b.fam {
			return -1
		}
		return 1
	}
	if len(a.raw) != len(b.raw) {
		if len(a.raw) < len(b.raw) {
			return -1
		}
		return 1
	}
	return strings.Compare(a.raw, b.raw)
}
