// Package keys derives stable identifiers from contributor names.
package keys

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ContributorKey folds a display name into its key: accents are stripped,
// letters lowercased and every run of other characters becomes one underscore.
// "Jane Doe" and "  jane   DOE " both map to "jane_doe". Names without a
// single letter or digit yield "".
func ContributorKey(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// RecordID composes the permanent record identifier.
func RecordID(contributorKey string, ordinal int) string {
	return fmt.Sprintf("%s_%d", contributorKey, ordinal)
}

// SplitRecordID reverses RecordID.
func SplitRecordID(id string) (string, int, bool) {
	idx := strings.LastIndexByte(id, '_')
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, false
	}
	ordinal, err := strconv.Atoi(id[idx+1:])
	if err != nil || ordinal < 1 {
		return "", 0, false
	}
	return id[:idx], ordinal, true
}

// DraftOwner and RecordOwner build the owner references media versions hang off.
func DraftOwner(draftID string) string { return "draft:" + draftID }

func RecordOwner(recordID string) string { return "record:" + recordID }

// DraftIDFromOwner returns the draft id of a draft owner reference.
func DraftIDFromOwner(owner string) (string, bool) {
	id, ok := strings.CutPrefix(owner, "draft:")
	return id, ok && id != ""
}
