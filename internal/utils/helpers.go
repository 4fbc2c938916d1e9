// Package utils provides utility functions used throughout the application.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateRandomBytes generates n random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}

	return b, nil
}

// GenerateRandomHex generates a random hex string of length n
func GenerateRandomHex(n int) (string, error) {
	bytes, err := GenerateRandomBytes(n / 2)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateID generates a unique ID with a specified prefix
func GenerateID(prefix string) (string, error) {
	randomPart, err := GenerateRandomHex(16)
	if err != nil {
		return "", err
	}

	timestamp := time.Now().Unix()

	if prefix == "" {
		return fmt.Sprintf("%x%s", timestamp, randomPart), nil
	}

	return fmt.Sprintf("%s_%x%s", prefix, timestamp, randomPart), nil
}
