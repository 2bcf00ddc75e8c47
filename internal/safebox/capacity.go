package safebox

import (
	"encoding/base64"
	"unicode/utf16"
)

const (
	GiB int64 = 1 << 30
	TiB int64 = 1 << 40

	// DefaultMaxUploadBytes caps a single upload when no limit is configured.
	DefaultMaxUploadBytes = 2 * GiB

	maskLength = 12
)

// capacityTiers is indexed by the safebox name hash. The order is part of the
// on-disk contract: reordering it changes every existing safebox's quota.
var capacityTiers = [...]int64{1 * GiB, 3 * GiB, 5 * GiB, 25 * GiB, 100 * GiB, 1 * TiB}

// PickCapacity derives a safebox's byte quota from its name. The hash is the
// 31-multiplier string hash over UTF-16 code units with 32-bit wraparound, so
// names map to the same tiers they always have.
func PickCapacity(name string) int64 {
	var h int32
	for _, u := range utf16.Encode([]rune(name)) {
		h = 31*h + int32(u)
	}
	// Widen before negating so the minimum int32 hash does not stay negative.
	idx := int64(h)
	if idx < 0 {
		idx = -idx
	}
	return capacityTiers[idx%int64(len(capacityTiers))]
}

// Mask turns an identifier into a short, URL-safe directory name. It is a pure
// function of its input; distinct inputs sharing a 9-byte prefix collide.
func Mask(id string) string {
	enc := base64.RawURLEncoding.EncodeToString([]byte(id))
	if len(enc) > maskLength {
		return enc[:maskLength]
	}
	return enc
}
