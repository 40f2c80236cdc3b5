// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

var ErrInvalidKey = errors.New("invalid key")

// Role scopes a poll key. An admin key manages the poll and reads the
// internal breakdown view; a viewer key reads the authenticated view.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"

	slugDomain = "slug"
	slugBytes  = 10
)

// GenerateID creates a random hex ID of the specified byte length
func GenerateID(byteLen int) (string, error) {
	b := make([]byte, byteLen)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func mac(domain, pollID, salt string) []byte {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write([]byte(pollID))
	return h.Sum(nil)
}

// GenerateKey derives the poll's key for role. Keys are never stored; the
// same poll, role and salt always give the same key.
func GenerateKey(role Role, pollID, salt string) string {
	return base64.RawURLEncoding.EncodeToString(mac(string(role), pollID, salt))
}

// ValidateKey checks key in constant time.
func ValidateKey(role Role, pollID, key, salt string) error {
	expected := GenerateKey(role, pollID, salt)
	if !hmac.Equal([]byte(key), []byte(expected)) {
		return ErrInvalidKey
	}
	return nil
}

func GenerateAdminKey(pollID, salt string) string {
	return GenerateKey(RoleAdmin, pollID, salt)
}

func ValidateAdminKey(pollID, adminKey, salt string) error {
	return ValidateKey(RoleAdmin, pollID, adminKey, salt)
}

// GenerateShareSlug creates a short alphanumeric URL slug for a poll.
func GenerateShareSlug(pollID, salt string) string {
	return base62Encode(mac(slugDomain, pollID, salt)[:slugBytes])
}

const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// base62Encode renders data as a big-endian base62 number.
func base62Encode(data []byte) string {
	num := new(big.Int).SetBytes(data)
	if num.Sign() == 0 {
		return "0"
	}

	base := big.NewInt(62)
	mod := new(big.Int)
	var out []byte
	for num.Sign() > 0 {
		num.QuoRem(num, base, mod)
		out = append(out, base62Chars[mod.Int64()])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
