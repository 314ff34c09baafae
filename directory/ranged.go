package directory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// rangedValues retrieves all values of a large multi-valued attribute using
// range windows (attr;range=N-M). The server echoes the window it actually
// returned in the response attribute name and marks the final window with a
// terminal "*". Enumeration stops on any of three independent conditions:
// the terminal marker, a window smaller than requested, or the caller's
// limit being reached. Zero limit means unbounded.
func rangedValues(ctx context.Context, conn Conn, objectDN, attr string, step, limit int) ([]string, error) {
	var values []string
	start := 0

	for {
		end := start + step - 1
		window := fmt.Sprintf("%s;range=%d-%d", attr, start, end)

		result, err := conn.Search(ctx, &SearchRequest{
			BaseDN:     objectDN,
			Scope:      ScopeBaseObject,
			Filter:     "(objectClass=*)",
			Attributes: []string{window},
		})
		if err != nil {
			return nil, wrapLDAP("ranged_retrieval", err)
		}
		if len(result.Entries) == 0 {
			return nil, notFoundf("ranged_retrieval", "", "object %s not found", objectDN)
		}

		chunk, final, ok := rangeWindow(result.Entries[0], attr)
		if !ok {
			// No range-tagged attribute in the response means the
			// object has no further values.
			return values, nil
		}

		values = append(values, chunk...)
		if limit > 0 && len(values) >= limit {
			return values[:limit], nil
		}
		if final || len(chunk) < step {
			return values, nil
		}
		start += len(chunk)
	}
}

// rangeWindow extracts the values of the range-tagged response attribute.
// final reports the terminal "*" marker; ok is false when the entry carries
// no window for attr at all. A plain untagged attribute counts as a final
// window, which servers return when every value fits in one response.
func rangeWindow(entry *ldap.Entry, attr string) (values []string, final, ok bool) {
	prefix := strings.ToLower(attr) + ";range="
	for _, a := range entry.Attributes {
		name := strings.ToLower(a.Name)
		if name == strings.ToLower(attr) {
			return a.Values, true, true
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		bounds := strings.TrimPrefix(name, prefix)
		if _, high, found := strings.Cut(bounds, "-"); found {
			if high == "*" {
				return a.Values, true, true
			}
			if _, err := strconv.Atoi(high); err == nil {
				return a.Values, false, true
			}
		}
	}
	return nil, false, false
}
