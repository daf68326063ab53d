package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

const (
	licenseAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	licensePrefix   = "RWB"
)

// License gates the client-facing control app; message processing ignores it
type License struct {
	Key            string
	Activated      bool
	ActivationDate time.Time
	ExpiresAt      time.Time
}

// Usable reports whether the license is activated and not expired
func (l License) Usable(now time.Time) bool {
	if !l.Activated {
		return false
	}
	return l.ExpiresAt.IsZero() || now.Before(l.ExpiresAt)
}

// GenerateLicenseKey returns a key of the form RWB-XXXX-XXXX
func GenerateLicenseKey() (string, error) {
	var sb strings.Builder
	sb.WriteString(licensePrefix)
	max := big.NewInt(int64(len(licenseAlphabet)))
	for group := 0; group < 2; group++ {
		sb.WriteByte('-')
		for i := 0; i < 4; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			sb.WriteByte(licenseAlphabet[n.Int64()])
		}
	}
	return sb.String(), nil
}

// ValidLicenseKey checks the shape of a key
func ValidLicenseKey(key string) bool {
	parts := strings.Split(key, "-")
	if len(parts) != 3 || parts[0] != licensePrefix {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 4 {
			return false
		}
		for _, r := range p {
			if !strings.ContainsRune(licenseAlphabet, r) {
				return false
			}
		}
	}
	return true
}
