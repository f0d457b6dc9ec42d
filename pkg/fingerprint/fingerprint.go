// Package fingerprint derives stable cache keys from the semantically
// significant fields of a diagnostic request.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

// DefaultNotesPrefixLen bounds how many code points of the normalized notes
// participate in the key. Requests whose notes differ only beyond this
// prefix intentionally share a fingerprint; that collision tolerance bounds
// cache memory and keeps minor free-text variance from re-triggering an
// external generation call.
const DefaultNotesPrefixLen = 120

// Builder computes fingerprints with a fixed notes-prefix length.
type Builder struct {
	notesPrefixLen int
}

// New returns a Builder. A non-positive prefix length falls back to
// DefaultNotesPrefixLen.
func New(notesPrefixLen int) Builder {
	if notesPrefixLen <= 0 {
		notesPrefixLen = DefaultNotesPrefixLen
	}
	return Builder{notesPrefixLen: notesPrefixLen}
}

// Compute returns a deterministic hex fingerprint for the request. It is a
// pure function of (vehicle identifier, subsystem, normalized notes prefix);
// arrival time, caller identity and diagnostic codes do not participate.
func (b Builder) Compute(req models.DiagnosticRequest) string {
	h := sha256.New()
	h.Write([]byte(req.VehicleIdentifier))
	h.Write([]byte{0})
	h.Write([]byte(models.NormalizeSubsystem(req.Subsystem)))
	h.Write([]byte{0})
	h.Write([]byte(b.normalizeNotes(req.Notes)))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// normalizeNotes trims, lower-cases and collapses inner whitespace, then
// truncates to the configured number of code points. Truncation happens on
// the raw text, never on an encoded form, so multi-byte characters cannot
// be split.
func (b Builder) normalizeNotes(notes string) string {
	fields := strings.Fields(strings.ToLower(notes))
	normalized := strings.Join(fields, " ")

	runes := []rune(normalized)
	if len(runes) > b.notesPrefixLen {
		runes = runes[:b.notesPrefixLen]
	}
	return string(runes)
}
