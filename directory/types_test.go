package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrincipal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    PrincipalID
		wantErr bool
	}{
		{"upn form", "alice@corp.example", PrincipalID{Name: "alice", Domain: "corp.example"}, false},
		{"down-level form", `CORP\alice`, PrincipalID{Name: "alice", Domain: "CORP"}, false},
		{"missing domain", "alice", PrincipalID{}, true},
		{"empty name", "@corp.example", PrincipalID{}, true},
		{"empty domain", "alice@", PrincipalID{}, true},
		{"empty down-level name", `CORP\`, PrincipalID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrincipal(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrincipalIDRendering(t *testing.T) {
	id := PrincipalID{Name: "alice", Domain: "corp.example"}
	assert.Equal(t, "alice@corp.example", id.UPN())
	assert.Equal(t, "alice@corp.example", id.String())
	assert.False(t, id.IsZero())
	assert.True(t, PrincipalID{}.IsZero())
}
