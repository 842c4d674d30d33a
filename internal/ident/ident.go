// Package ident generates the short collision-resistant identifiers used as
// primary keys throughout the system, and the opaque bearer tokens derived
// from them.
package ident

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// IDLength is the number of characters in a generated identifier.
const IDLength = 10

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Sentinel errors for token parsing.
var (
	ErrMalformedToken = errors.New("malformed token")
)

// New returns a fresh random identifier. The first character is always a
// letter so identifiers survive contexts that choke on leading digits.
func New() string {
	var b strings.Builder
	b.Grow(IDLength)
	b.WriteByte(alphabet[10+randInt(26)])
	for i := 1; i < IDLength; i++ {
		b.WriteByte(alphabet[randInt(36)])
	}
	return b.String()
}

func randInt(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is broken,
		// at which point continuing to issue identifiers would be worse.
		panic(fmt.Sprintf("ident: entropy source failed: %v", err))
	}
	return v.Int64()
}

// GenerateToken builds a bearer token for the given user ID. The format is
// b64(user_id) "." b64(issued_unix) "." random, with base64 padding stripped
// from the timestamp segment.
func GenerateToken(userID string) string {
	b64id := base64.StdEncoding.EncodeToString([]byte(userID))
	b64ts := strings.TrimRight(
		base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(time.Now().UTC().Unix(), 10))),
		"=",
	)
	return b64id + "." + b64ts + "." + New()
}

// DeconstructToken splits a bearer token into its user ID, issue time, and
// random suffix. Tokens are looked up by equality for authentication; this
// exists for diagnostics and tests.
func DeconstructToken(token string) (userID string, issued time.Time, random string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", time.Time{}, "", ErrMalformedToken
	}

	idBytes, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	tsBytes, err := base64.StdEncoding.DecodeString(pad(parts[1]))
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	unix, err := strconv.ParseInt(string(tsBytes), 10, 64)
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	return string(idBytes), time.Unix(unix, 0).UTC(), parts[2], nil
}

// pad restores stripped base64 padding.
func pad(s string) string {
	if m := len(s) % 4; m != 0 {
		return s + strings.Repeat("=", 4-m)
	}
	return s
}
