package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum allowed length for the webhook secret.
	// GitLab hook tokens and GitHub hook secrets share the same value.
	MinSecretLength = 32

	// MinEntropy is the minimum Shannon entropy for the webhook secret.
	MinEntropy = 3.5
)

var placeholderSecrets = map[string]bool{
	"secret":                                  true,
	"password":                                true,
	"changeme":                                true,
	"webhook-secret":                          true,
	"your-webhook-secret":                     true,
	"replace-with-a-webhook-secret":           true,
	"replace-with-at-least-32-random-chars":   true,
	"mergeboard-webhook-secret-placeholder-1": true,
}

// ValidateSecret checks the webhook secret: minimum length, not a known
// placeholder, and enough Shannon entropy.
func ValidateSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (minimum %d characters, got %d)", MinSecretLength, len(secret))
	}

	lower := strings.ToLower(secret)
	if placeholderSecrets[lower] {
		return fmt.Errorf("secret appears to be a placeholder value, please use a real secret")
	}
	for _, marker := range []string{"replace", "changeme", "placeholder", "password"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("secret appears to be a placeholder value")
		}
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f) - use a more random secret", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret returns a 48-character URL-safe random secret, suitable for
// both the X-Gitlab-Token header and GitHub's HMAC key.
func GenerateSecret() (string, error) {
	b := make([]byte, 36)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// calculateEntropy computes the Shannon entropy of s in bits per character.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// IsWeakSecret reports obviously weak secrets. serve uses it to warn in test
// mode, where ValidateSecret is skipped.
func IsWeakSecret(secret string) bool {
	if len(secret) < MinSecretLength {
		return true
	}
	if len(strings.Trim(secret, string(secret[0]))) == 0 {
		return true
	}
	if isSequential(secret) {
		return true
	}
	return calculateEntropy(secret) < 2.5
}

func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}
	return float64(sequential) > float64(len(s))*0.7
}
