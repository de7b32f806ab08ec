// Package eligibility decides which records may ever be reaped.
//
// A Policy is configured with protected root collections and a persistence
// marker. One Policy value is handed to soft reap, hard reap and the manual
// trigger so scheduled and manual deletions obey the same rule.
package eligibility

import "strings"

// Policy is the eligibility predicate. The zero value allows every record.
type Policy struct {
	// ProtectedCollections are root collection paths. A record in a
	// protected root, or in any collection beneath one ("root/..."), is
	// never eligible.
	ProtectedCollections []string

	// PersistenceMarker, when non-empty, exempts any record carrying it.
	PersistenceMarker string
}

// New builds a Policy, dropping empty roots and trailing slashes.
func New(protected []string, persistenceMarker string) Policy {
	roots := make([]string, 0, len(protected))
	for _, p := range protected {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p != "" {
			roots = append(roots, p)
		}
	}
	return Policy{ProtectedCollections: roots, PersistenceMarker: persistenceMarker}
}

// Allows reports whether a record with the given collections and markers
// may be reaped.
func (p Policy) Allows(collections, markers []string) bool {
	for _, c := range collections {
		if p.IsProtected(c) {
			return false
		}
	}
	if p.PersistenceMarker != "" {
		for _, m := range markers {
			if m == p.PersistenceMarker {
				return false
			}
		}
	}
	return true
}

// IsProtected reports whether collection is a protected root or lies beneath one.
func (p Policy) IsProtected(collection string) bool {
	collection = strings.TrimRight(collection, "/")
	for _, root := range p.ProtectedCollections {
		if collection == root || strings.HasPrefix(collection, root+"/") {
			return true
		}
	}
	return false
}
