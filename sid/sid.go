// Package sid implements the binary Security Identifier format used by
// Active Directory (MS-DTYP section 2.4.2).
//
// The binary layout is:
//
//	Revision(1) + SubAuthorityCount(1) + IdentifierAuthority(6, big-endian)
//	+ SubAuthorities(4*N, little-endian)
//
// The asymmetric endianness is intentional and matches the external
// convention: the authority is serialized big-endian, the sub-authorities
// little-endian. The string form is "S-{Revision}-{Authority}-{Sub1}-...".
// SIDs are compared as strings throughout the resolution engine, never as
// raw bytes.
package sid

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxSubAuthorities is the maximum number of sub-authority values a SID may
// carry (MS-DTYP).
const MaxSubAuthorities = 15

// Revision is the only SID revision in use.
const Revision = 1

// headerSize is the fixed portion of a binary SID.
const headerSize = 8

// SID is a decoded Security Identifier. The zero value is not a valid SID;
// use Decode or Parse. Values are immutable: WithRid returns a copy rather
// than mutating the receiver, so a SID may be shared freely across calls.
type SID struct {
	revision            uint8
	identifierAuthority uint64 // 48-bit value
	subAuthorities      []uint32
}

// New constructs a SID from its components. It fails if the sub-authority
// count exceeds MaxSubAuthorities or the authority does not fit in 48 bits.
func New(authority uint64, subAuthorities ...uint32) (SID, error) {
	if len(subAuthorities) > MaxSubAuthorities {
		return SID{}, fmt.Errorf("sid: too many sub-authorities: %d (max %d)", len(subAuthorities), MaxSubAuthorities)
	}
	if authority >= 1<<48 {
		return SID{}, fmt.Errorf("sid: identifier authority %d exceeds 48 bits", authority)
	}
	subs := make([]uint32, len(subAuthorities))
	copy(subs, subAuthorities)
	return SID{
		revision:            Revision,
		identifierAuthority: authority,
		subAuthorities:      subs,
	}, nil
}

// MustNew is New for statically known values, such as well-known SIDs.
func MustNew(authority uint64, subAuthorities ...uint32) SID {
	s, err := New(authority, subAuthorities...)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses a binary SID. Malformed directory data must not silently
// produce a wrong identity, so every structural violation is an error:
// unknown revision, more than 15 sub-authorities, or a byte length that is
// not exactly 8+4*count.
func Decode(data []byte) (SID, error) {
	if len(data) < headerSize {
		return SID{}, fmt.Errorf("sid: truncated: %d bytes", len(data))
	}
	if data[0] != Revision {
		return SID{}, fmt.Errorf("sid: unsupported revision %d", data[0])
	}
	count := int(data[1])
	if count > MaxSubAuthorities {
		return SID{}, fmt.Errorf("sid: sub-authority count %d exceeds %d", count, MaxSubAuthorities)
	}
	if len(data) != headerSize+4*count {
		return SID{}, fmt.Errorf("sid: length %d does not match sub-authority count %d (want %d)",
			len(data), count, headerSize+4*count)
	}

	var authority uint64
	for _, b := range data[2:8] {
		authority = authority<<8 | uint64(b)
	}

	subs := make([]uint32, count)
	for i := 0; i < count; i++ {
		subs[i] = binary.LittleEndian.Uint32(data[headerSize+4*i:])
	}

	return SID{
		revision:            data[0],
		identifierAuthority: authority,
		subAuthorities:      subs,
	}, nil
}

// Encode serializes the SID to its binary form, the exact inverse of Decode.
func (s SID) Encode() []byte {
	out := make([]byte, headerSize+4*len(s.subAuthorities))
	out[0] = s.revision
	out[1] = byte(len(s.subAuthorities))
	authority := s.identifierAuthority
	for i := 7; i >= 2; i-- {
		out[i] = byte(authority)
		authority >>= 8
	}
	for i, sub := range s.subAuthorities {
		binary.LittleEndian.PutUint32(out[headerSize+4*i:], sub)
	}
	return out
}

// Parse parses the textual "S-1-5-21-..." form.
func Parse(text string) (SID, error) {
	if !strings.HasPrefix(text, "S-") {
		return SID{}, fmt.Errorf("sid: %q does not start with S-", text)
	}
	parts := strings.Split(text[2:], "-")
	if len(parts) < 2 {
		return SID{}, fmt.Errorf("sid: %q is missing revision or authority", text)
	}

	revision, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || revision != Revision {
		return SID{}, fmt.Errorf("sid: invalid revision in %q", text)
	}
	authority, err := strconv.ParseUint(parts[1], 10, 48)
	if err != nil {
		return SID{}, fmt.Errorf("sid: invalid authority in %q", text)
	}
	if len(parts)-2 > MaxSubAuthorities {
		return SID{}, fmt.Errorf("sid: too many sub-authorities in %q", text)
	}

	subs := make([]uint32, len(parts)-2)
	for i, part := range parts[2:] {
		value, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return SID{}, fmt.Errorf("sid: invalid sub-authority %q in %q", part, text)
		}
		subs[i] = uint32(value)
	}

	return SID{
		revision:            uint8(revision),
		identifierAuthority: authority,
		subAuthorities:      subs,
	}, nil
}

// MustParse is Parse for statically known values.
func MustParse(text string) SID {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

// String renders the canonical textual form used as the comparison key
// everywhere else in the engine.
func (s SID) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "S-%d-%d", s.revision, s.identifierAuthority)
	for _, sub := range s.subAuthorities {
		fmt.Fprintf(&b, "-%d", sub)
	}
	return b.String()
}

// SubAuthorityCount returns the number of sub-authority values.
func (s SID) SubAuthorityCount() int {
	return len(s.subAuthorities)
}

// SubAuthorities returns a copy of the sub-authority values.
func (s SID) SubAuthorities() []uint32 {
	out := make([]uint32, len(s.subAuthorities))
	copy(out, s.subAuthorities)
	return out
}

// IdentifierAuthority returns the 48-bit identifier authority.
func (s SID) IdentifierAuthority() uint64 {
	return s.identifierAuthority
}

// RID returns the final sub-authority, the Relative Identifier naming the
// object within its domain.
func (s SID) RID() (uint32, error) {
	if len(s.subAuthorities) == 0 {
		return 0, fmt.Errorf("sid: %s has no sub-authorities", s)
	}
	return s.subAuthorities[len(s.subAuthorities)-1], nil
}

// WithRid returns a SID identical to the receiver except the last
// sub-authority replaced by rid. It is used to derive a well-known related
// object's SID without a directory round trip, such as locating a user's
// primary group from its primaryGroupID attribute. The receiver is never
// modified.
func (s SID) WithRid(rid int64) (SID, error) {
	if len(s.subAuthorities) == 0 {
		return SID{}, fmt.Errorf("sid: cannot substitute RID on %s: no sub-authorities", s)
	}
	if rid < 0 || rid > math.MaxUint32 {
		return SID{}, fmt.Errorf("sid: RID %d out of range", rid)
	}
	subs := make([]uint32, len(s.subAuthorities))
	copy(subs, s.subAuthorities)
	subs[len(subs)-1] = uint32(rid)
	return SID{
		revision:            s.revision,
		identifierAuthority: s.identifierAuthority,
		subAuthorities:      subs,
	}, nil
}

// DomainPart returns the SID with the final sub-authority removed: the SID
// of the issuing domain. Two principals belong to the same domain exactly
// when their DomainParts are equal.
func (s SID) DomainPart() SID {
	if len(s.subAuthorities) == 0 {
		return s
	}
	subs := make([]uint32, len(s.subAuthorities)-1)
	copy(subs, s.subAuthorities)
	return SID{
		revision:            s.revision,
		identifierAuthority: s.identifierAuthority,
		subAuthorities:      subs,
	}
}

// Equal reports whether two SIDs are identical.
func (s SID) Equal(other SID) bool {
	if s.revision != other.revision || s.identifierAuthority != other.identifierAuthority {
		return false
	}
	if len(s.subAuthorities) != len(other.subAuthorities) {
		return false
	}
	for i := range s.subAuthorities {
		if s.subAuthorities[i] != other.subAuthorities[i] {
			return false
		}
	}
	return true
}

// IsValid reports whether text looks like a SID string. It accepts any
// structurally sound "S-1-..." form without decoding it fully.
func IsValid(text string) bool {
	_, err := Parse(text)
	return err == nil
}
