package directory

import (
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestClassifyResultCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"size limit", ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("x")), KindSizeLimit},
		{"admin limit", ldap.NewError(ldap.LDAPResultAdminLimitExceeded, errors.New("x")), KindSizeLimit},
		{"no such object", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("x")), KindNotFound},
		{"invalid credentials", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("x")), KindAuthentication},
		{"server down", ldap.NewError(ldap.LDAPResultServerDown, errors.New("x")), KindConnectivity},
		{"busy", ldap.NewError(ldap.LDAPResultBusy, errors.New("x")), KindConnectivity},
		{"refused transport", errors.New("dial tcp: connection refused"), KindConnectivity},
		{"bind negotiation", errors.New("bind negotiation failed"), KindConnectivity},
		{"anything else", errors.New("some application error"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestWrapLDAPPreservesClassifiedErrors(t *testing.T) {
	original := notFoundf("find_user", "alice@corp.example", "no matching entry")

	wrapped := wrapLDAP("outer_op", original)
	var de *Error
	assert.True(t, errors.As(wrapped, &de))
	assert.Equal(t, "find_user", de.Op, "an already-classified error keeps its operation")
	assert.Equal(t, KindNotFound, de.Kind)
}

func TestErrorRetryable(t *testing.T) {
	assert.True(t, (&Error{Kind: KindConnectivity}).Retryable())
	assert.False(t, (&Error{Kind: KindSizeLimit}).Retryable())
	assert.False(t, (&Error{Kind: KindAuthentication}).Retryable())
	assert.False(t, (&Error{Kind: KindSchema}).Retryable())
}

func TestErrorMessageOmitsFilter(t *testing.T) {
	err := &Error{
		Op:        "find_user",
		Kind:      KindNotFound,
		Principal: "alice@corp.example",
		Domain:    "corp.example",
	}
	msg := err.Error()
	assert.Contains(t, msg, "find_user")
	assert.Contains(t, msg, "alice@corp.example")
	assert.NotContains(t, msg, "objectClass", "filter text never reaches error messages")
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsNotFound(&Error{Kind: KindNotFound}))
	assert.True(t, IsAmbiguous(&Error{Kind: KindAmbiguous}))
	assert.True(t, IsSchema(&Error{Kind: KindSchema}))
	assert.True(t, IsConnectivity(errors.New("connection reset by peer")))
	assert.False(t, IsSizeLimit(nil))
}
