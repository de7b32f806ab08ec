// Package keys provides key encoding for the reaper's Oxia keyspace.
//
// Records live under
//
//	/reaper/v1/records/<recordId>
//
// and every ingestion leaves an entry in the ingestion log
//
//	/reaper/v1/ingested/<ingestedAtMsZ>/<recordId>
//
// where ingestedAtMsZ is the Unix millisecond timestamp zero-padded to
// width 20 so that lexicographic order matches time order. The log outlives
// the record it points to, so trailing ingestion counts include records that
// have since been purged.
package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampWidth is the number of digits for zero-padded timestamps.
const TimestampWidth = 20

// Key prefixes.
const (
	// Prefix is the root prefix for all reaper keys.
	Prefix = "/reaper/v1"

	// RecordsPrefix is the prefix for record documents.
	RecordsPrefix = Prefix + "/records/"

	// IngestedPrefix is the prefix for the ingestion log.
	IngestedPrefix = Prefix + "/ingested/"
)

// rangeEnd sorts after every valid record id at the same key depth. Oxia
// orders keys by depth first, so range bounds must keep the segment count of
// the keys they bracket.
const rangeEnd = "~"

// ErrInvalidKey is returned when a key cannot be parsed.
var ErrInvalidKey = errors.New("keys: invalid key format")

// ErrInvalidID is returned for record ids that cannot be embedded in a key.
var ErrInvalidID = errors.New("keys: invalid record id")

// ValidateID reports whether id can be used as a single key segment.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/~") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// EncodeTimestamp encodes t as zero-padded Unix milliseconds.
func EncodeTimestamp(t time.Time) string {
	ms := t.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%0*d", TimestampWidth, ms)
}

// DecodeTimestamp decodes a zero-padded Unix millisecond timestamp.
func DecodeTimestamp(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// RecordKey returns the key of the record document for id.
func RecordKey(id string) string {
	return RecordsPrefix + id
}

// RecordsEndKey is the exclusive upper bound for scanning records.
func RecordsEndKey() string {
	return RecordsPrefix + rangeEnd
}

// ParseRecordKey extracts the record id from a record key.
func ParseRecordKey(key string) (string, error) {
	id, ok := strings.CutPrefix(key, RecordsPrefix)
	if !ok || ValidateID(id) != nil {
		return "", ErrInvalidKey
	}
	return id, nil
}

// IngestedKey returns the ingestion log key for a record ingested at t.
func IngestedKey(t time.Time, id string) string {
	return IngestedPrefix + EncodeTimestamp(t) + "/" + id
}

// IngestedBoundKey sorts before every log entry at t and after every entry
// before t. It is the inclusive start of "since t" scans and the exclusive
// end of "before t" scans.
func IngestedBoundKey(t time.Time) string {
	return IngestedPrefix + EncodeTimestamp(t) + "/"
}

// IngestedMaxKey is the exclusive upper bound for the whole ingestion log.
func IngestedMaxKey() string {
	return IngestedPrefix + strings.Repeat("9", TimestampWidth) + "/" + rangeEnd
}

// ParseIngestedKey splits an ingestion log key into timestamp and record id.
func ParseIngestedKey(key string) (time.Time, string, error) {
	rest, ok := strings.CutPrefix(key, IngestedPrefix)
	if !ok {
		return time.Time{}, "", ErrInvalidKey
	}
	ts, id, ok := strings.Cut(rest, "/")
	if !ok || len(ts) != TimestampWidth || ValidateID(id) != nil {
		return time.Time{}, "", ErrInvalidKey
	}
	t, err := DecodeTimestamp(ts)
	if err != nil {
		return time.Time{}, "", ErrInvalidKey
	}
	return t, id, nil
}
