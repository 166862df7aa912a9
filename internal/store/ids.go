package store

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

// idSuffixLen is the random suffix length per id prefix. Item ids are typed by
// hand in the CLI, so they stay short and grow only on repeated collisions.
func idSuffixLen(prefix string) int {
	switch prefix {
	case "item":
		return 6
	default:
		return 8
	}
}

func newRandomID(prefix string) (string, error) {
	return newRandomIDWithLen(prefix, idSuffixLen(prefix))
}

// newRandomIDWithLen returns prefix-<suffix> with n lowercase base32 characters.
func newRandomIDWithLen(prefix string, n int) (string, error) {
	if n <= 0 {
		n = 8
	}
	b := make([]byte, (n*5+7)/8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	suffix := strings.ToLower(enc.EncodeToString(b))
	if len(suffix) > n {
		suffix = suffix[:n]
	}
	return prefix + "-" + suffix, nil
}

// NextID draws ids until exists reports a free one, widening the suffix after
// repeated collisions.
func NextID(prefix string, exists func(id string) (bool, error)) (string, error) {
	base := idSuffixLen(prefix)
	lens := []int{base, base + 1, base + 2, base + 4}
	for _, ln := range lens {
		for i := 0; i < 20; i++ {
			id, err := newRandomIDWithLen(prefix, ln)
			if err != nil {
				return "", err
			}
			taken, err := exists(id)
			if err != nil {
				return "", err
			}
			if !taken {
				return id, nil
			}
		}
	}
	return "", errIDSpaceExhausted
}
