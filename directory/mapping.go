package directory

import (
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// entryMapper turns directory entries into domain objects. Attribute names
// are resolved from the schema once at construction.
type entryMapper struct {
	home string

	userAccount string
	userDisplay string
	userDesc    string
	userSid     string
	userUAC     string
	userLockout string

	groupAccount string
	groupDesc    string
	groupSid     string
}

func newEntryMapper(schema *Schema, home string) (*entryMapper, error) {
	m := &entryMapper{home: strings.ToLower(home)}

	var err error
	resolve := func(dst *string, class ObjectClass, id AttributeID) {
		if err != nil {
			return
		}
		*dst, err = schema.Attribute(class, id)
	}
	resolve(&m.userAccount, ClassUser, AttrAccountName)
	resolve(&m.userDisplay, ClassUser, AttrDisplayName)
	resolve(&m.userDesc, ClassUser, AttrDescription)
	resolve(&m.userSid, ClassUser, AttrObjectSid)
	resolve(&m.userUAC, ClassUser, AttrUserAccountControl)
	resolve(&m.userLockout, ClassUser, AttrLockoutTime)
	resolve(&m.groupAccount, ClassGroup, AttrAccountName)
	resolve(&m.groupDesc, ClassGroup, AttrDescription)
	resolve(&m.groupSid, ClassGroup, AttrObjectSid)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// user maps a directory entry to a PersonUser. The alias is populated only
// for objects outside the provider's registered domain, using the NetBIOS
// name from trust metadata.
func (m *entryMapper) user(entry *ldap.Entry, trusts Trusts) PersonUser {
	domain := DomainOfDN(entry.DN)
	account := entry.GetAttributeValue(m.userAccount)

	user := PersonUser{
		ID:        PrincipalID{Name: account, Domain: domain},
		ObjectSid: sidTextOf(entry, m.userSid),
		Detail:    firstNonEmpty(entry.GetAttributeValue(m.userDisplay), entry.GetAttributeValue(m.userDesc)),
		Disabled:  uacDisabled(entry.GetAttributeValue(m.userUAC)),
		Locked:    lockedOut(entry.GetAttributeValue(m.userLockout)),
	}
	user.Alias = m.aliasFor(account, domain, trusts)
	return user
}

// group maps a directory entry to a Group.
func (m *entryMapper) group(entry *ldap.Entry, trusts Trusts) Group {
	domain := DomainOfDN(entry.DN)
	account := entry.GetAttributeValue(m.groupAccount)

	group := Group{
		ID:        PrincipalID{Name: account, Domain: domain},
		ObjectSid: sidTextOf(entry, m.groupSid),
		Detail:    entry.GetAttributeValue(m.groupDesc),
	}
	group.Alias = m.aliasFor(account, domain, trusts)
	return group
}

func (m *entryMapper) aliasFor(account, domain string, trusts Trusts) *PrincipalID {
	if strings.EqualFold(domain, m.home) {
		return nil
	}
	netbios := trusts.NetBiosOf(domain)
	if netbios == "" {
		netbios = netBiosGuess(domain)
	}
	return &PrincipalID{Name: account, Domain: netbios}
}

// uacDisabled decodes the account-disabled bit of userAccountControl.
func uacDisabled(value string) bool {
	if value == "" {
		return false
	}
	uac, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false
	}
	return uac&uacAccountDisabled != 0
}

// lockedOut treats any non-zero lockoutTime as locked. The directory
// resets the value to zero on unlock; a historic non-zero value past the
// lockout window still reads as locked here, matching the filter used for
// locked-user enumeration.
func lockedOut(value string) bool {
	if value == "" {
		return false
	}
	t, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false
	}
	return t > 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
