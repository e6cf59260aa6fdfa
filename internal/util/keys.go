package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/makkenzo/entitlement-service-api/internal/domain/clientkey"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
)

func generateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func generateRandomString(length int) (string, error) {
	byteLength := (length*3 + 3) / 4
	b, err := generateRandomBytes(byteLength + 2)
	if err != nil {
		return "", err
	}

	str := base64.RawURLEncoding.EncodeToString(b)
	str = strings.ReplaceAll(str, "-", "")
	str = strings.ReplaceAll(str, "_", "")
	if len(str) < length {
		return generateRandomString(length)
	}
	return str[:length], nil
}

// GenerateLicenseCode draws length characters uniformly from licensekey.CodeAlphabet.
func GenerateLicenseCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length %d", length)
	}
	alphabetSize := big.NewInt(int64(len(licensekey.CodeAlphabet)))

	var sb strings.Builder
	sb.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to read random index: %w", err)
		}
		sb.WriteByte(licensekey.CodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeLicenseCode makes user-typed codes comparable with stored ones.
func NormalizeLicenseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func GenerateClientKey() (fullKey string, prefix string, keyHash string, err error) {
	prefix, err = generateRandomString(clientkey.PrefixLength)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate prefix: %w", err)
	}

	secret, err := generateRandomString(clientkey.SecretLength)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	fullKey = fmt.Sprintf(clientkey.KeyFormat, prefix, secret)
	return fullKey, prefix, HashClientKey(fullKey), nil
}

func HashClientKey(fullKey string) string {
	hashBytes := sha256.Sum256([]byte(fullKey))
	return fmt.Sprintf("%x", hashBytes)
}
