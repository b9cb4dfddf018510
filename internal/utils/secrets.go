package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// ticketAlphabet excludes 0/O and 1/I so codes survive being read aloud
const ticketAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// maxOrderCode is the largest integer a JSON number can carry exactly
const maxOrderCode = int64(1<<53 - 1)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateTicketCode returns prefix followed by length random characters
// from an unambiguous upper-case alphabet.
func GenerateTicketCode(prefix string, length int) (string, error) {
	max := big.NewInt(int64(len(ticketAlphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate ticket code: %w", err)
		}
		code[i] = ticketAlphabet[n.Int64()]
	}
	return prefix + string(code), nil
}

// GenerateOrderCode returns a positive gateway order code built from the
// millisecond clock and three random digits, bounded to 2^53-1.
func GenerateOrderCode(now time.Time) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return 0, fmt.Errorf("failed to generate order code: %w", err)
	}
	code := (now.UnixMilli()%1_000_000_000_000)*1000 + n.Int64()
	if code <= 0 || code > maxOrderCode {
		code = code%maxOrderCode + 1
	}
	return code, nil
}
