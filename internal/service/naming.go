package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// secretAlphabet leaves out characters that are easy to misread
	// over the phone: 0 O o 1 l I i
	secretAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	secretLength   = 10

	fallbackUsername = "cliente"
	maxUsernameTries = 1000
)

// NormalizeUsername derives a login from a person's name: diacritics are
// stripped, everything is lowercased, and the first and last words are joined
// with a dot. "João da Silva" becomes "joao.silva".
func NormalizeUsername(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, name)
	if err != nil {
		plain = name
	}

	words := strings.FieldsFunc(strings.ToLower(plain), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	switch len(words) {
	case 0:
		return fallbackUsername
	case 1:
		return words[0]
	}
	return words[0] + "." + words[len(words)-1]
}

// uniqueUsername returns base, or base followed by the smallest numeric
// suffix from 2 up that is free on the device
func uniqueUsername(ctx context.Context, q repository.Queries, deviceID uuid.UUID, base string) (string, error) {
	for n := 1; n <= maxUsernameTries; n++ {
		candidate := base
		if n > 1 {
			candidate = base + strconv.Itoa(n)
		}

		_, err := q.FindCredentialByUsername(ctx, deviceID, candidate)
		if errors.Is(err, repository.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free username for %q", base)
}

// GenerateSecret returns a random secret drawn from secretAlphabet
func GenerateSecret() (string, error) {
	max := big.NewInt(int64(len(secretAlphabet)))
	b := make([]byte, secretLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate secret: %w", err)
		}
		b[i] = secretAlphabet[n.Int64()]
	}
	return string(b), nil
}

// credentialComment is the human-readable tag stored on the device object
func credentialComment(contractID uuid.UUID, customer *db.Customer, addr *db.Address) string {
	comment := fmt.Sprintf("Contract %s - %s", contractID, customer.Name)
	if addr == nil {
		return comment
	}

	var parts []string
	street := strings.TrimSpace(strings.TrimSpace(addr.Street) + " " + strings.TrimSpace(addr.Number))
	for _, p := range []string{street, addr.Neighborhood, addr.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return comment
	}
	return comment + " - " + strings.Join(parts, ", ")
}
