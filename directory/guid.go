package directory

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Active Directory stores objectGUID in a mixed-endian layout: the first
// three UUID fields are little-endian, the final eight bytes keep their
// order. The helpers below convert between that layout and the canonical
// hyphenated string form.

// GUIDFromBytes converts a raw objectGUID value to its canonical string.
func GUIDFromBytes(raw []byte) (string, error) {
	if len(raw) != 16 {
		return "", errors.Newf("objectGUID must be 16 bytes, got %d", len(raw))
	}
	swapped := swapGUIDEndianness(raw)
	parsed, err := uuid.FromBytes(swapped)
	if err != nil {
		return "", errors.Wrap(err, "decode objectGUID")
	}
	return parsed.String(), nil
}

// GUIDToBytes converts a canonical GUID string to the directory's binary
// layout, suitable for filter substitution.
func GUIDToBytes(text string) ([]byte, error) {
	parsed, err := uuid.Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "parse GUID %q", text)
	}
	return swapGUIDEndianness(parsed[:]), nil
}

// IsGUID reports whether text parses as a GUID.
func IsGUID(text string) bool {
	_, err := uuid.Parse(text)
	return err == nil
}

func swapGUIDEndianness(in []byte) []byte {
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	out[4], out[5] = in[5], in[4]
	out[6], out[7] = in[7], in[6]
	copy(out[8:], in[8:])
	return out
}
