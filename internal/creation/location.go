package creation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Location URI schemes, spec.md §3.
const (
	schemeNative = "native://"
	schemeRecord = "record://"
	schemeError  = "error://"
)

// NativeLocation formats a built-in creation's location.
func NativeLocation(name string) string {
	return schemeNative + name
}

// IsNativeLocation reports whether loc names a built-in creation.
func IsNativeLocation(loc string) bool {
	return strings.HasPrefix(loc, schemeNative)
}

// IsRecordLocation reports whether loc is a live, pre-publication location.
func IsRecordLocation(loc string) bool {
	return strings.HasPrefix(loc, schemeRecord)
}

// IsErrorLocation reports whether loc is a poisoned creation's location.
func IsErrorLocation(loc string) bool {
	return strings.HasPrefix(loc, schemeError)
}

// ErrorLocation formats the location of a creation poisoned by a failed
// publish.
func ErrorLocation(reason string) string {
	return schemeError + reason
}

// RecordOutputLocation formats the record-scoped location of the n'th
// output of record id.
func RecordOutputLocation(recordID string, n int) string {
	return fmt.Sprintf("%s%s_o%d", schemeRecord, recordID, n)
}

// RecordDeleteLocation formats the record-scoped location of the n'th
// delete slot of record id.
func RecordDeleteLocation(recordID string, n int) string {
	return fmt.Sprintf("%s%s_d%d", schemeRecord, recordID, n)
}

// TxOutputLocation formats the on-chain location of output n of txid.
func TxOutputLocation(txid string, n int) string {
	return fmt.Sprintf("%s_o%d", txid, n)
}

// TxDeleteLocation formats the on-chain location of delete slot n of txid.
func TxDeleteLocation(txid string, n int) string {
	return fmt.Sprintf("%s_d%d", txid, n)
}

// BerryLocation formats a berry's location: the output it was plucked
// against, plus the plucking query and a content hash binding the result.
func BerryLocation(txOutputLoc, query, hash string) string {
	v := url.Values{}
	v.Set("berry", query)
	v.Set("hash", hash)
	return txOutputLoc + "?" + v.Encode()
}

// ParsedLocation is the decomposed form of a location string.
type ParsedLocation struct {
	TxID      string
	Index     int
	IsDelete  bool
	IsOutput  bool
	Berry     string
	BerryHash string
}

// ParseTxLocation parses a `<txid>_o<n>` / `<txid>_d<n>` location, optionally
// with a berry query string suffix. It does not accept native/record/error
// locations — callers should check those schemes first.
func ParseTxLocation(loc string) (ParsedLocation, error) {
	base := loc
	var berry, hash string
	if i := strings.IndexByte(loc, '?'); i >= 0 {
		base = loc[:i]
		q, err := url.ParseQuery(loc[i+1:])
		if err != nil {
			return ParsedLocation{}, fmt.Errorf("invalid berry query in location %q: %w", loc, err)
		}
		berry = q.Get("berry")
		hash = q.Get("hash")
	}

	oi := strings.LastIndex(base, "_o")
	di := strings.LastIndex(base, "_d")
	sep := oi
	isOutput := true
	if di > oi {
		sep = di
		isOutput = false
	}
	if sep < 0 {
		return ParsedLocation{}, fmt.Errorf("not a tx-qualified location: %q", loc)
	}

	txid := base[:sep]
	nStr := base[sep+2:]
	n, err := strconv.Atoi(nStr)
	if err != nil {
		return ParsedLocation{}, fmt.Errorf("invalid index in location %q: %w", loc, err)
	}

	return ParsedLocation{
		TxID:      txid,
		Index:     n,
		IsDelete:  !isOutput,
		IsOutput:  isOutput,
		Berry:     berry,
		BerryHash: hash,
	}, nil
}
