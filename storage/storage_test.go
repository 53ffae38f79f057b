package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHashIsStable(t *testing.T) {
	body := []byte("From: a@example.com\r\nSubject: hi\r\n\r\nhello")

	h1 := ContentHash(body)
	h2 := ContentHash(body)
	assert.Equal(t, h1, h2, "hashing is deterministic")
	assert.Len(t, h1, 64, "hex BLAKE3-256 digest")

	assert.NotEqual(t, h1, ContentHash([]byte("different body")))
}

func TestKeyForSplitsHashPrefix(t *testing.T) {
	assert.Equal(t, "ab/cd/abcdef0123", keyFor("abcdef0123"))

	// Degenerate short hashes are used as-is rather than panicking.
	assert.Equal(t, "abc", keyFor("abc"))
}
