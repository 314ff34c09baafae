package directory

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-ldap/ldap/v3"
)

// ErrorKind classifies resolution failures. The kind decides the retry and
// fallback behavior, so classification is explicit rather than inferred from
// wrapped exception types.
type ErrorKind string

const (
	// KindConnectivity covers transport-level failures: server unreachable,
	// bind negotiation failed. Retried exactly once with forced controller
	// rediscovery; a second failure surfaces to the caller.
	KindConnectivity ErrorKind = "connectivity"

	// KindAuthentication covers rejected credentials. Never retried.
	KindAuthentication ErrorKind = "authentication"

	// KindNotFound covers zero entries where exactly one was expected.
	KindNotFound ErrorKind = "not_found"

	// KindAmbiguous covers multiple entries where exactly one was expected.
	// The engine never silently picks one of several matches.
	KindAmbiguous ErrorKind = "ambiguous"

	// KindSizeLimit covers directory-signaled result truncation. Propagated
	// verbatim and never retried, since a retry repeats the truncation.
	KindSizeLimit ErrorKind = "size_limit"

	// KindSchema covers configuration faults: an unmapped attribute or
	// malformed SID bytes. Fatal and non-retryable; a misconfigured identity
	// source must stop the operation rather than produce a partially wrong
	// result.
	KindSchema ErrorKind = "schema"

	// KindUnknown is everything else.
	KindUnknown ErrorKind = "unknown"
)

// Error is the engine's categorized error. The search filter is deliberately
// absent from the message: it can contain reflected search input and must
// not reach user-facing errors.
type Error struct {
	Op        string
	Kind      ErrorKind
	Principal string
	Domain    string
	Cause     error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("directory %s failed (%s)", e.Op, e.Kind))
	if e.Principal != "" {
		parts = append(parts, "principal: "+e.Principal)
	}
	if e.Domain != "" {
		parts = append(parts, "domain: "+e.Domain)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " - ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure may succeed against a rediscovered
// controller. Only connectivity faults qualify.
func (e *Error) Retryable() bool {
	return e.Kind == KindConnectivity
}

// wrapLDAP classifies a raw directory failure into the taxonomy and tags it
// with the operation. Already-classified errors pass through with the
// operation filled in if missing.
func wrapLDAP(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		if de.Op == "" {
			de.Op = op
		}
		return err
	}
	return &Error{Op: op, Kind: classify(err), Cause: err}
}

// classify maps go-ldap result codes and transport errors onto the taxonomy.
func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded),
		ldap.IsErrorWithCode(err, ldap.LDAPResultAdminLimitExceeded):
		return KindSizeLimit
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return KindNotFound
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials),
		ldap.IsErrorWithCode(err, ldap.LDAPResultInappropriateAuthentication),
		ldap.IsErrorWithCode(err, ldap.LDAPResultStrongAuthRequired):
		return KindAuthentication
	case ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown),
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable),
		ldap.IsErrorWithCode(err, ldap.LDAPResultBusy),
		ldap.IsErrorWithCode(err, ldap.LDAPResultConnectError):
		return KindConnectivity
	}

	text := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"unable to dial",
		"bind negotiation",
	} {
		if strings.Contains(text, pattern) {
			return KindConnectivity
		}
	}
	return KindUnknown
}

// IsConnectivity reports whether err is a transient connectivity fault.
func IsConnectivity(err error) bool {
	return kindOf(err) == KindConnectivity
}

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool {
	return kindOf(err) == KindNotFound
}

// IsAmbiguous reports whether err is an ambiguous-match condition.
func IsAmbiguous(err error) bool {
	return kindOf(err) == KindAmbiguous
}

// IsSizeLimit reports whether err is a size-limit truncation. Size-limit
// errors are a caller-facing parameter problem, never a transient fault.
func IsSizeLimit(err error) bool {
	return kindOf(err) == KindSizeLimit
}

// IsSchema reports whether err is a schema or configuration fault.
func IsSchema(err error) bool {
	return kindOf(err) == KindSchema
}

func kindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return classify(err)
}

// notFoundf builds a not-found error for a principal lookup.
func notFoundf(op, principal, format string, args ...any) *Error {
	return &Error{
		Op:        op,
		Kind:      KindNotFound,
		Principal: principal,
		Cause:     errors.Newf(format, args...),
	}
}

// ambiguousf builds an ambiguous-match error for a principal lookup.
func ambiguousf(op, principal, format string, args ...any) *Error {
	return &Error{
		Op:        op,
		Kind:      KindAmbiguous,
		Principal: principal,
		Cause:     errors.Newf(format, args...),
	}
}

// schemaErrf builds a fatal schema/configuration error.
func schemaErrf(op, format string, args ...any) *Error {
	return &Error{
		Op:    op,
		Kind:  KindSchema,
		Cause: errors.Newf(format, args...),
	}
}
