package directory

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// ObjectClass names a directory object category abstractly; the schema maps
// it to the directory's actual objectClass value.
type ObjectClass string

const (
	ClassUser                     ObjectClass = "user"
	ClassGroup                    ObjectClass = "group"
	ClassForeignSecurityPrincipal ObjectClass = "foreignSecurityPrincipal"
	ClassDomain                   ObjectClass = "domain"
	ClassPasswordSettings         ObjectClass = "passwordSettings"
)

// AttributeID names a directory attribute abstractly. Queries are built from
// these identifiers so a tenant can remap attributes without touching query
// construction.
type AttributeID string

const (
	AttrAccountName        AttributeID = "accountName"
	AttrUserPrincipalName  AttributeID = "userPrincipalName"
	AttrDisplayName        AttributeID = "displayName"
	AttrDescription        AttributeID = "description"
	AttrDistinguishedName  AttributeID = "distinguishedName"
	AttrObjectSid          AttributeID = "objectSid"
	AttrObjectGUID         AttributeID = "objectGUID"
	AttrMember             AttributeID = "member"
	AttrMemberOf           AttributeID = "memberOf"
	AttrPrimaryGroupID     AttributeID = "primaryGroupID"
	AttrTokenGroups        AttributeID = "tokenGroups"
	AttrGroupType          AttributeID = "groupType"
	AttrUserAccountControl AttributeID = "userAccountControl"
	AttrLockoutTime        AttributeID = "lockoutTime"
	AttrMaxPwdAge          AttributeID = "maxPwdAge"
	AttrPSOApplied         AttributeID = "psoApplied"
	AttrPSOMaxPwdAge       AttributeID = "psoMaxPwdAge"
)

// AD matching rule OIDs used in filter templates.
const (
	matchingRuleBitAnd  = "1.2.840.113556.1.4.803"
	matchingRuleInChain = "1.2.840.113556.1.4.1941"
)

// uacAccountDisabled is the userAccountControl bit marking a disabled
// account.
const uacAccountDisabled = 2

type attrKey struct {
	class ObjectClass
	id    AttributeID
}

// defaultAttributes is the Active Directory default schema. Tenant
// configuration may override any entry.
var defaultAttributes = map[attrKey]string{
	{ClassUser, AttrAccountName}:         "sAMAccountName",
	{ClassUser, AttrUserPrincipalName}:   "userPrincipalName",
	{ClassUser, AttrDisplayName}:         "displayName",
	{ClassUser, AttrDescription}:         "description",
	{ClassUser, AttrDistinguishedName}:   "distinguishedName",
	{ClassUser, AttrObjectSid}:           "objectSid",
	{ClassUser, AttrObjectGUID}:          "objectGUID",
	{ClassUser, AttrMemberOf}:            "memberOf",
	{ClassUser, AttrPrimaryGroupID}:      "primaryGroupID",
	{ClassUser, AttrTokenGroups}:         "tokenGroups",
	{ClassUser, AttrUserAccountControl}:  "userAccountControl",
	{ClassUser, AttrLockoutTime}:         "lockoutTime",
	{ClassUser, AttrPSOApplied}:          "msDS-ResultantPSO",
	{ClassGroup, AttrAccountName}:        "sAMAccountName",
	{ClassGroup, AttrDisplayName}:        "displayName",
	{ClassGroup, AttrDescription}:        "description",
	{ClassGroup, AttrDistinguishedName}:  "distinguishedName",
	{ClassGroup, AttrObjectSid}:          "objectSid",
	{ClassGroup, AttrObjectGUID}:         "objectGUID",
	{ClassGroup, AttrMember}:             "member",
	{ClassGroup, AttrMemberOf}:           "memberOf",
	{ClassGroup, AttrGroupType}:          "groupType",
	{ClassDomain, AttrMaxPwdAge}:         "maxPwdAge",
	{ClassPasswordSettings, AttrPSOMaxPwdAge}: "msDS-MaximumPasswordAge",
}

// defaultClasses maps abstract object classes to directory objectClass
// values.
var defaultClasses = map[ObjectClass]string{
	ClassUser:                     "user",
	ClassGroup:                    "group",
	ClassForeignSecurityPrincipal: "foreignSecurityPrincipal",
	ClassDomain:                   "domain",
	ClassPasswordSettings:         "msDS-PasswordSettings",
}

// SchemaOverrides carries tenant-specific remappings applied on top of the
// defaults.
type SchemaOverrides struct {
	Attributes map[ObjectClass]map[AttributeID]string
	Classes    map[ObjectClass]string
}

// Schema translates abstract attribute and object-class identifiers into
// directory-specific names. Built once per provider instance and read-only
// thereafter.
type Schema struct {
	attrs   map[attrKey]string
	classes map[ObjectClass]string
}

// NewSchema builds a schema from the defaults overlaid with overrides.
func NewSchema(overrides *SchemaOverrides) *Schema {
	s := &Schema{
		attrs:   make(map[attrKey]string, len(defaultAttributes)),
		classes: make(map[ObjectClass]string, len(defaultClasses)),
	}
	for key, name := range defaultAttributes {
		s.attrs[key] = name
	}
	for class, name := range defaultClasses {
		s.classes[class] = name
	}
	if overrides != nil {
		for class, attrs := range overrides.Attributes {
			for id, name := range attrs {
				s.attrs[attrKey{class, id}] = name
			}
		}
		for class, name := range overrides.Classes {
			s.classes[class] = name
		}
	}
	return s
}

// Attribute resolves an abstract attribute identifier. An unmapped
// identifier is a fatal configuration error: a misconfigured schema must not
// silently query the wrong attribute.
func (s *Schema) Attribute(class ObjectClass, id AttributeID) (string, error) {
	name, ok := s.attrs[attrKey{class, id}]
	if !ok {
		return "", schemaErrf("schema", "no attribute mapped for %s.%s", class, id)
	}
	return name, nil
}

// Class resolves an abstract object class.
func (s *Schema) Class(class ObjectClass) (string, error) {
	name, ok := s.classes[class]
	if !ok {
		return "", schemaErrf("schema", "no object class mapped for %s", class)
	}
	return name, nil
}

// Escape filter-escapes a caller-supplied search value so that the special
// characters * ( ) \ and NUL are treated as literals, never as filter
// syntax.
func Escape(value string) string {
	return ldap.EscapeFilter(value)
}

// escapeBinary filter-escapes a raw attribute value such as a binary SID or
// GUID.
func escapeBinary(value []byte) string {
	return ldap.EscapeFilter(string(value))
}

// Queries holds the pre-built filter templates. Object-class and attribute
// names are resolved at construction, leaving only the caller-supplied
// search values to substitute; every substitution is filter-escaped.
type Queries struct {
	schema *Schema

	userClass  string
	groupClass string
	fspClass   string

	userAccount  string
	userUPN      string
	userUAC      string
	userLockout  string
	userDisplay  string
	groupAccount string
	groupMember  string
	groupDN      string
	userDN       string
	groupSid     string
	groupType    string
	userSid      string
	userGUID     string
	domainClass  string
	psoClass     string
}

// NewQueries resolves every attribute a template needs; any unmapped
// identifier fails construction with a schema error.
func NewQueries(schema *Schema) (*Queries, error) {
	q := &Queries{schema: schema}

	var err error
	resolve := func(dst *string, get func() (string, error)) {
		if err != nil {
			return
		}
		*dst, err = get()
	}

	resolve(&q.userClass, func() (string, error) { return schema.Class(ClassUser) })
	resolve(&q.groupClass, func() (string, error) { return schema.Class(ClassGroup) })
	resolve(&q.fspClass, func() (string, error) { return schema.Class(ClassForeignSecurityPrincipal) })
	resolve(&q.domainClass, func() (string, error) { return schema.Class(ClassDomain) })
	resolve(&q.psoClass, func() (string, error) { return schema.Class(ClassPasswordSettings) })
	resolve(&q.userAccount, func() (string, error) { return schema.Attribute(ClassUser, AttrAccountName) })
	resolve(&q.userUPN, func() (string, error) { return schema.Attribute(ClassUser, AttrUserPrincipalName) })
	resolve(&q.userUAC, func() (string, error) { return schema.Attribute(ClassUser, AttrUserAccountControl) })
	resolve(&q.userLockout, func() (string, error) { return schema.Attribute(ClassUser, AttrLockoutTime) })
	resolve(&q.userDisplay, func() (string, error) { return schema.Attribute(ClassUser, AttrDisplayName) })
	resolve(&q.userSid, func() (string, error) { return schema.Attribute(ClassUser, AttrObjectSid) })
	resolve(&q.userGUID, func() (string, error) { return schema.Attribute(ClassUser, AttrObjectGUID) })
	resolve(&q.groupAccount, func() (string, error) { return schema.Attribute(ClassGroup, AttrAccountName) })
	resolve(&q.groupMember, func() (string, error) { return schema.Attribute(ClassGroup, AttrMember) })
	resolve(&q.groupDN, func() (string, error) { return schema.Attribute(ClassGroup, AttrDistinguishedName) })
	resolve(&q.userDN, func() (string, error) { return schema.Attribute(ClassUser, AttrDistinguishedName) })
	resolve(&q.groupSid, func() (string, error) { return schema.Attribute(ClassGroup, AttrObjectSid) })
	resolve(&q.groupType, func() (string, error) { return schema.Attribute(ClassGroup, AttrGroupType) })
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Schema returns the schema the templates were resolved from.
func (q *Queries) Schema() *Schema {
	return q.schema
}

// UserByAccountName matches a user by its pre-Windows-2000 account name.
func (q *Queries) UserByAccountName(name string) string {
	return fmt.Sprintf("(&(%s=%s)(objectClass=%s))", q.userAccount, Escape(name), q.userClass)
}

// UserByUPN matches a user by userPrincipalName.
func (q *Queries) UserByUPN(upn string) string {
	return fmt.Sprintf("(&(%s=%s)(objectClass=%s))", q.userUPN, Escape(upn), q.userClass)
}

// GroupByAccountName matches a group by account name.
func (q *Queries) GroupByAccountName(name string) string {
	return fmt.Sprintf("(&(%s=%s)(objectClass=%s))", q.groupAccount, Escape(name), q.groupClass)
}

// UserOrGroupByAccountName matches either kind by account name. When user
// and group share the account-name attribute a single conjunctive clause
// with an objectClass disjunction is produced; otherwise two separate
// class-scoped clauses, so a shared attribute name can never double-match.
func (q *Queries) UserOrGroupByAccountName(name string) []string {
	if q.userAccount == q.groupAccount {
		return []string{fmt.Sprintf("(&(%s=%s)(|(objectClass=%s)(objectClass=%s)))",
			q.userAccount, Escape(name), q.userClass, q.groupClass)}
	}
	return []string{
		fmt.Sprintf("(&(%s=%s)(objectClass=%s))", q.userAccount, Escape(name), q.userClass),
		fmt.Sprintf("(&(%s=%s)(objectClass=%s))", q.groupAccount, Escape(name), q.groupClass),
	}
}

// UserBySid matches a user by binary objectSid.
func (q *Queries) UserBySid(raw []byte) string {
	return fmt.Sprintf("(&(%s=%s)(objectClass=%s))", q.userSid, escapeBinary(raw), q.userClass)
}

// GroupBySid matches a group by binary objectSid.
func (q *Queries) GroupBySid(raw []byte) string {
	return fmt.Sprintf("(&(%s=%s)(objectClass=%s))", q.groupSid, escapeBinary(raw), q.groupClass)
}

// AnyBySid matches any object carrying the given objectSid.
func (q *Queries) AnyBySid(raw []byte) string {
	return fmt.Sprintf("(%s=%s)", q.userSid, escapeBinary(raw))
}

// AnyByGUID matches any object by binary objectGUID.
func (q *Queries) AnyByGUID(raw []byte) string {
	return fmt.Sprintf("(%s=%s)", q.userGUID, escapeBinary(raw))
}

// UsersByCriteria matches users whose account or display name contains the
// free-text criteria.
func (q *Queries) UsersByCriteria(criteria string) string {
	escaped := Escape(criteria)
	return fmt.Sprintf("(&(objectClass=%s)(|(%s=*%s*)(%s=*%s*)))",
		q.userClass, q.userAccount, escaped, q.userDisplay, escaped)
}

// GroupsByCriteria matches groups whose account name contains the free-text
// criteria.
func (q *Queries) GroupsByCriteria(criteria string) string {
	return fmt.Sprintf("(&(objectClass=%s)(%s=*%s*))", q.groupClass, q.groupAccount, Escape(criteria))
}

// UsersByNamePrefix matches users whose account name starts with prefix.
func (q *Queries) UsersByNamePrefix(prefix string) string {
	return fmt.Sprintf("(&(objectClass=%s)(%s=%s*))", q.userClass, q.userAccount, Escape(prefix))
}

// AllUsers matches every user object.
func (q *Queries) AllUsers() string {
	return fmt.Sprintf("(objectClass=%s)", q.userClass)
}

// AllDisabledUsers matches users whose account-disabled UAC bit is set,
// using the bitwise-AND matching rule.
func (q *Queries) AllDisabledUsers() string {
	return fmt.Sprintf("(&(objectClass=%s)(%s:%s:=%d))", q.userClass, q.userUAC, matchingRuleBitAnd, uacAccountDisabled)
}

// AllLockedUsers matches users with a non-zero lockoutTime.
func (q *Queries) AllLockedUsers() string {
	return fmt.Sprintf("(&(objectClass=%s)(%s>=1))", q.userClass, q.userLockout)
}

// ParentGroups matches the groups that list dn as a direct member.
func (q *Queries) ParentGroups(dn string) string {
	return fmt.Sprintf("(&(objectClass=%s)(%s=%s))", q.groupClass, q.groupMember, Escape(dn))
}

// NestedParentGroups matches every group dn belongs to transitively, using
// the server-side chain matching rule.
func (q *Queries) NestedParentGroups(dn string) string {
	return fmt.Sprintf("(&(objectClass=%s)(%s:%s:=%s))", q.groupClass, q.groupMember, matchingRuleInChain, Escape(dn))
}

// GroupsByDN ORs up to clause-limit distinguishedName equalities into one
// filter for a member-of expansion round.
func (q *Queries) GroupsByDN(dns []string) string {
	if len(dns) == 1 {
		return fmt.Sprintf("(&(objectClass=%s)(%s=%s))", q.groupClass, q.groupDN, Escape(dns[0]))
	}
	clauses := ""
	for _, dn := range dns {
		clauses += fmt.Sprintf("(%s=%s)", q.groupDN, Escape(dn))
	}
	return fmt.Sprintf("(&(objectClass=%s)(|%s))", q.groupClass, clauses)
}

// UsersByDN ORs distinguishedName equalities into one filter, used to
// resolve a window of member DNs to user objects.
func (q *Queries) UsersByDN(dns []string) string {
	if len(dns) == 1 {
		return fmt.Sprintf("(&(objectClass=%s)(%s=%s))", q.userClass, q.userDN, Escape(dns[0]))
	}
	clauses := ""
	for _, dn := range dns {
		clauses += fmt.Sprintf("(%s=%s)", q.userDN, Escape(dn))
	}
	return fmt.Sprintf("(&(objectClass=%s)(|%s))", q.userClass, clauses)
}

// GroupsBySid ORs binary objectSid equalities into one filter for a
// token-groups expansion round.
func (q *Queries) GroupsBySid(raws [][]byte) string {
	if len(raws) == 1 {
		return fmt.Sprintf("(&(objectClass=%s)(%s=%s))", q.groupClass, q.groupSid, escapeBinary(raws[0]))
	}
	clauses := ""
	for _, raw := range raws {
		clauses += fmt.Sprintf("(%s=%s)", q.groupSid, escapeBinary(raw))
	}
	return fmt.Sprintf("(&(objectClass=%s)(|%s))", q.groupClass, clauses)
}

// ForeignSecurityPrincipals matches the placeholder objects for the given
// textual SIDs.
func (q *Queries) ForeignSecurityPrincipals(sids []string) string {
	clauses := ""
	for _, s := range sids {
		clauses += fmt.Sprintf("(cn=%s)", Escape(s))
	}
	if len(sids) == 1 {
		return fmt.Sprintf("(&(objectClass=%s)%s)", q.fspClass, clauses)
	}
	return fmt.Sprintf("(&(objectClass=%s)(|%s))", q.fspClass, clauses)
}

// DomainPolicy matches the domain head object carrying password policy.
func (q *Queries) DomainPolicy() string {
	return fmt.Sprintf("(objectClass=%s)", q.domainClass)
}

// PasswordSettings matches a Password Settings Object by name.
func (q *Queries) PasswordSettings(name string) string {
	return fmt.Sprintf("(&(objectClass=%s)(cn=%s))", q.psoClass, Escape(name))
}
