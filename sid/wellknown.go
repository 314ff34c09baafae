package sid

import "strings"

// Well-known SIDs are issued by fixed authorities and never identify a
// domain principal, so group search strategies exclude them from membership
// results. The set below covers the identities Windows injects into every
// token plus the builtin domain.
var wellKnown = map[string]struct{}{
	"S-1-0-0":      {}, // Nobody
	"S-1-1-0":      {}, // Everyone
	"S-1-2-0":      {}, // Local
	"S-1-2-1":      {}, // Console Logon
	"S-1-3-0":      {}, // Creator Owner
	"S-1-3-1":      {}, // Creator Group
	"S-1-5-1":      {}, // Dialup
	"S-1-5-2":      {}, // Network
	"S-1-5-3":      {}, // Batch
	"S-1-5-4":      {}, // Interactive
	"S-1-5-6":      {}, // Service
	"S-1-5-7":      {}, // Anonymous
	"S-1-5-9":      {}, // Enterprise Domain Controllers
	"S-1-5-10":     {}, // Principal Self
	"S-1-5-11":     {}, // Authenticated Users
	"S-1-5-12":     {}, // Restricted Code
	"S-1-5-13":     {}, // Terminal Server Users
	"S-1-5-14":     {}, // Remote Interactive Logon
	"S-1-5-15":     {}, // This Organization
	"S-1-5-17":     {}, // IUSR
	"S-1-5-18":     {}, // Local System
	"S-1-5-19":     {}, // Local Service
	"S-1-5-20":     {}, // Network Service
	"S-1-5-64-10":  {}, // NTLM Authentication
	"S-1-5-64-14":  {}, // SChannel Authentication
	"S-1-5-64-21":  {}, // Digest Authentication
	"S-1-5-1000":   {}, // Other Organization
	"S-1-15-2-1":   {}, // All App Packages
	"S-1-16-4096":  {}, // Low Mandatory Level
	"S-1-16-8192":  {}, // Medium Mandatory Level
	"S-1-16-12288": {}, // High Mandatory Level
	"S-1-16-16384": {}, // System Mandatory Level
	"S-1-18-1":     {}, // Authentication Authority Asserted Identity
	"S-1-18-2":     {}, // Service Asserted Identity
}

// builtinPrefix covers the BUILTIN domain (S-1-5-32-*): Administrators,
// Users, Guests and the rest of the builtin aliases.
const builtinPrefix = "S-1-5-32-"

// IsWellKnown reports whether text names a well-known SID.
func IsWellKnown(text string) bool {
	if _, ok := wellKnown[text]; ok {
		return true
	}
	return strings.HasPrefix(text, builtinPrefix)
}
