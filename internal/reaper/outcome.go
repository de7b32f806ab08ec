package reaper

import (
	"sort"
	"time"
)

// Type identifies the kind of batch.
type Type string

const (
	// TypeSoft marks records soft-deleted.
	TypeSoft Type = "soft"
	// TypeHard purges soft-deleted records and their artifacts.
	TypeHard Type = "hard"
)

// ParseType converts "soft" or "hard" to a Type.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypeSoft:
		return TypeSoft, true
	case TypeHard:
		return TypeHard, true
	}
	return "", false
}

// Outcome keys that are not artifact kinds.
const (
	KeyIndex         = "index"
	KeyLedgerWritten = "ledgerWritten"
)

// BatchOutcome maps record id to per-store success flags. A nil flag means
// the step was not attempted. It serialises as {"id": {"key": bool|null}}.
type BatchOutcome map[string]map[string]*bool

func (o BatchOutcome) set(id, key string, ok bool) {
	o.row(id)[key] = &ok
}

func (o BatchOutcome) skip(id, key string) {
	o.row(id)[key] = nil
}

func (o BatchOutcome) row(id string) map[string]*bool {
	r, ok := o[id]
	if !ok {
		r = make(map[string]*bool)
		o[id] = r
	}
	return r
}

// Succeeded reports whether the flag for key is present and true.
func (o BatchOutcome) Succeeded(id, key string) bool {
	v := o[id][key]
	return v != nil && *v
}

// Failed reports whether the flag for key is present and false.
func (o BatchOutcome) Failed(id, key string) bool {
	v := o[id][key]
	return v != nil && !*v
}

// IDs returns the record ids in sorted order.
func (o BatchOutcome) IDs() []string {
	ids := make([]string, 0, len(o))
	for id := range o {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Touched returns the ids whose index step succeeded, sorted.
func (o BatchOutcome) Touched() []string {
	var ids []string
	for _, id := range o.IDs() {
		if o.Succeeded(id, KeyIndex) {
			ids = append(ids, id)
		}
	}
	return ids
}

// BatchReport is the immutable audit document for one executed batch.
type BatchReport struct {
	ID        string       `json:"id"`
	Type      Type         `json:"type"`
	DeletedBy string       `json:"deletedBy"`
	Timestamp time.Time    `json:"timestamp"`
	Outcome   BatchOutcome `json:"outcome"`
}
