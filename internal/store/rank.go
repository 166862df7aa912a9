package store

import (
	"errors"
	"strings"
)

// Ranks are lowercase base36 strings compared lexicographically. They are the
// sibling order key of an item.
const rankAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var (
	ErrRankOrder   = errors.New("rank: lower bound must sort before upper bound")
	ErrRankInvalid = errors.New("rank: invalid character")
	ErrRankNoSpace = errors.New("rank: no space between bounds")
)

func rankDigit(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'z':
		return 10 + int(c-'a'), true
	default:
		return 0, false
	}
}

func normRank(r string) string { return strings.ToLower(strings.TrimSpace(r)) }

// RankBetween returns a rank strictly between a and b. Either bound may be
// empty (open). It is a fractional-indexing midpoint: the shared prefix is
// copied and the first differing digit is split.
func RankBetween(a, b string) (string, error) {
	a, b = normRank(a), normRank(b)
	if a != "" && b != "" && a >= b {
		return "", ErrRankOrder
	}
	inside := func(r string) bool {
		return r != "" && (a == "" || a < r) && (b == "" || r < b)
	}

	prefix := make([]byte, 0, 8)
	for i := 0; i < 256; i++ {
		lo, hi := 0, len(rankAlphabet)-1
		if i < len(a) {
			d, ok := rankDigit(a[i])
			if !ok {
				return "", ErrRankInvalid
			}
			lo = d
		}
		if i < len(b) {
			d, ok := rankDigit(b[i])
			if !ok {
				return "", ErrRankInvalid
			}
			hi = d
		}
		if lo == hi {
			prefix = append(prefix, rankAlphabet[lo])
			continue
		}
		if hi-lo > 1 {
			r := string(append(prefix, rankAlphabet[lo+(hi-lo)/2]))
			if !inside(r) {
				// b extends a by a minimal digit ("y" < "y0"): nothing fits.
				return "", ErrRankNoSpace
			}
			return r, nil
		}
		// Adjacent digits: any extension of a still sorts before b.
		r := a + "0"
		if !inside(r) {
			return "", ErrRankNoSpace
		}
		return r, nil
	}
	return "", ErrRankNoSpace
}

func RankAfter(a string) (string, error)  { return RankBetween(a, "") }
func RankBefore(b string) (string, error) { return RankBetween("", b) }
func RankInitial() (string, error)        { return RankBetween("", "") }

// RankBetweenUnique returns a rank in (lower, upper) that is not in existing.
// Keys of existing must be normalized. Other siblings are never rewritten.
func RankBetweenUnique(existing map[string]bool, lower, upper string) (string, error) {
	cur := normRank(lower)
	upper = normRank(upper)
	for i := 0; i < 256; i++ {
		r, err := RankBetween(cur, upper)
		if err != nil {
			return "", err
		}
		if !existing[r] {
			return r, nil
		}
		cur = r
	}
	return "", ErrRankNoSpace
}
