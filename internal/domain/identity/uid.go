package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// MintUID derives the stable entity identifier from the normalized
// identity key. It is a pure function: the same inputs always produce
// the same UID. When neither affiliation nor birth year corroborates the
// name, the source key is folded in so that common uncorroborated names
// from unrelated sources cannot collide worldwide.
func MintUID(normalizedName, affiliationName string, birthYear int, sourceKey string) string {
	var b strings.Builder
	b.WriteString(normalizedName)
	b.WriteByte('|')
	b.WriteString(affiliationName)
	b.WriteByte('|')
	if birthYear > 0 {
		b.WriteString(strconv.Itoa(birthYear))
	}
	if affiliationName == "" && birthYear <= 0 {
		b.WriteString("|src=")
		b.WriteString(sourceKey)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
