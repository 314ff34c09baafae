package directory

import (
	"context"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// DomainOfDN derives the DNS domain name from a distinguished name's DC
// components: "CN=Ops,OU=Groups,DC=corp,DC=example" yields "corp.example".
// An empty string means the DN carries no domain components.
func DomainOfDN(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		// Fall back to a textual scan; directory-returned DNs are
		// occasionally non-parseable but still carry DC components.
		return domainOfDNText(dn)
	}

	var labels []string
	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, "DC") {
				labels = append(labels, strings.ToLower(attr.Value))
			}
		}
	}
	return strings.Join(labels, ".")
}

func domainOfDNText(dn string) string {
	var labels []string
	for _, part := range strings.Split(dn, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if found && strings.EqualFold(key, "DC") {
			labels = append(labels, strings.ToLower(value))
		}
	}
	return strings.Join(labels, ".")
}

// RootNamingContext reads the defaultNamingContext from a controller's root
// DSE. Controllers occasionally serve a naming context that differs from the
// DNS-derived form; the root DSE is authoritative for the connection at hand.
func RootNamingContext(ctx context.Context, conn Conn) (string, error) {
	result, err := conn.Search(ctx, &SearchRequest{
		BaseDN:     "",
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"defaultNamingContext"},
	})
	if err != nil {
		return "", wrapLDAP("root_dse", err)
	}
	if len(result.Entries) == 0 {
		return "", nil
	}
	return result.Entries[0].GetAttributeValue("defaultNamingContext"), nil
}

// BaseDNForDomain builds the default naming context DN for a DNS domain:
// "corp.example" yields "DC=corp,DC=example".
func BaseDNForDomain(domain string) string {
	if domain == "" {
		return ""
	}
	labels := strings.Split(domain, ".")
	parts := make([]string, len(labels))
	for i, label := range labels {
		parts[i] = "DC=" + label
	}
	return strings.Join(parts, ",")
}
