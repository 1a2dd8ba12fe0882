// Package reference implements the deterministic, tamper-evident payment
// reference embedded in bank transfer memos. A reference binds a
// reservation to one specific QR issuance event: the checksum is computed
// over the reservation id, the amount and the issuance timestamp, so a memo
// carrying an old reference cannot be replayed against a re-issued QR.
//
// The wire format is BOOKING<24 hex chars><4 hex chars> and must remain
// stable; references are embedded in real-world transfer memos already in
// flight.
package reference

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// Prefix is the literal marker scanned for in free-text memos
const Prefix = "BOOKING"

var pattern = regexp.MustCompile(`(?i)BOOKING([0-9a-f]{24})([0-9a-f]{4})`)

// Decoded is the result of scanning a memo for a payment reference
type Decoded struct {
	ReservationID string
	Checksum      string
}

// Encode builds the payment reference for one QR issuance event. The
// checksum is the last four hex characters, uppercased, of
// SHA-256(reservationID + amount + timestampMillis).
func Encode(reservationID string, amount int64, timestampMillis int64) string {
	return Prefix + reservationID + Checksum(reservationID, amount, timestampMillis)
}

// Checksum computes just the 4-character verification tag
func Checksum(reservationID string, amount int64, timestampMillis int64) string {
	input := reservationID + strconv.FormatInt(amount, 10) + strconv.FormatInt(timestampMillis, 10)
	sum := sha256.Sum256([]byte(input))
	hexSum := hex.EncodeToString(sum[:])
	return strings.ToUpper(hexSum[len(hexSum)-4:])
}

// Decode scans free-text content for a payment reference. A missing
// reference is a normal outcome, reported as nil, not an error: most bank
// memos carry no reference at all.
func Decode(content string) *Decoded {
	m := pattern.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	return &Decoded{
		ReservationID: strings.ToLower(m[1]),
		Checksum:      strings.ToUpper(m[2]),
	}
}

// Verify recomputes the checksum from the reservation's stored amount and
// stored issuance timestamp and compares it, case-insensitively, against the
// checksum carried in the memo. A mismatch means the memo's reference does
// not belong to this reservation's most recent QR issuance.
func Verify(d *Decoded, reservationID string, amount int64, timestampMillis int64) bool {
	if d == nil || !strings.EqualFold(d.ReservationID, reservationID) {
		return false
	}
	return strings.EqualFold(d.Checksum, Checksum(reservationID, amount, timestampMillis))
}
