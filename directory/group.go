package directory

import (
	"strconv"
)

// groupType flag bits as stored in the directory. The attribute is a signed
// 32-bit value; the security-enabled flag occupies the sign bit, so the
// textual value of a security group is negative.
const (
	groupTypeBuiltinLocal = 0x00000001
	groupTypeGlobal       = 0x00000002
	groupTypeDomainLocal  = 0x00000004
	groupTypeUniversal    = 0x00000008
	groupTypeSecurity     = 0x80000000
)

// parseGroupType decodes the textual groupType attribute value.
func parseGroupType(value string) (uint32, bool) {
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint32(parsed), true
}

// isSecurityGroup reports whether the group can appear in an access token.
// Distribution groups lack the flag and never grant access.
func isSecurityGroup(groupType uint32) bool {
	return groupType&groupTypeSecurity != 0
}

// isDomainLocalGroup reports domain-local scope, including the builtin
// container's groups.
func isDomainLocalGroup(groupType uint32) bool {
	return groupType&(groupTypeDomainLocal|groupTypeBuiltinLocal) != 0
}

// isGlobalGroup reports global scope.
func isGlobalGroup(groupType uint32) bool {
	return groupType&groupTypeGlobal != 0
}

// isUniversalGroup reports universal scope.
func isUniversalGroup(groupType uint32) bool {
	return groupType&groupTypeUniversal != 0
}
