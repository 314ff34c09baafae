package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGroupType(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  uint32
		ok    bool
	}{
		{"security global", "-2147483646", 0x80000002, true},
		{"security universal", "-2147483640", 0x80000008, true},
		{"distribution global", "2", 0x00000002, true},
		{"empty", "", 0, false},
		{"garbage", "abc", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseGroupType(tt.value)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGroupTypeFlags(t *testing.T) {
	securityGlobal := uint32(0x80000002)
	securityDomainLocal := uint32(0x80000004)
	securityBuiltin := uint32(0x80000005)
	distributionUniversal := uint32(0x00000008)

	assert.True(t, isSecurityGroup(securityGlobal))
	assert.False(t, isSecurityGroup(distributionUniversal))

	assert.True(t, isGlobalGroup(securityGlobal))
	assert.True(t, isDomainLocalGroup(securityDomainLocal))
	assert.True(t, isDomainLocalGroup(securityBuiltin), "builtin groups count as domain local")
	assert.True(t, isUniversalGroup(distributionUniversal))
	assert.False(t, isDomainLocalGroup(securityGlobal))
}
