package safebox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPickCapacity(t *testing.T) {
	tests := []struct {
		name string
		want int64
	}{
		{"f", 1 * GiB},
		{"a", 3 * GiB},
		{"b", 5 * GiB},
		{"c", 25 * GiB},
		{"d", 100 * GiB},
		{"e", 1 * TiB},
		{"Docs", 25 * GiB},
		{"Hello World", 1 * GiB},        // negative hash
		{"Fotos 2024", 3 * GiB},         // negative hash
		{"polygenelubricants", 5 * GiB}, // hash is the minimum int32
		{"ñandú", 1 * GiB},
		{"😀", 3 * GiB}, // surrogate pair hashes as two code units
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickCapacity(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, PickCapacity(tt.name), "must be deterministic")
		})
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "YWxpY2U"},
		{"bob", "Ym9i"},
		{"alice:Docs", "YWxpY2U6RG9j"},
		{"bob:Photos", "Ym9iOlBob3Rv"},
		{"alice@example.com", "YWxpY2VAZXhh"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Mask(tt.in), "Mask(%q)", tt.in)
		assert.LessOrEqual(t, len(Mask(tt.in)), 12)
	}
}

func TestUserMapping_AssignSafeBox(t *testing.T) {
	m := NewUserMapping("alice@example.com")
	assert.Equal(t, "YWxpY2VAZXhh", m.MaskedUserID)

	docs := m.AssignSafeBox("alice@example.com", "Docs")
	photos := m.AssignSafeBox("alice@example.com", "Photos")

	assert.Equal(t, "YWxpY2VAZXhh", docs)
	assert.Equal(t, "YWxpY2VAZXhh-2", photos, "truncated masks of one user must not share a directory")
	assert.Equal(t, docs, m.AssignSafeBox("alice@example.com", "Docs"), "existing entries are stable")

	short := NewUserMapping("bob")
	assert.Equal(t, "Ym9iOlBob3Rv", short.AssignSafeBox("bob", "Photos"))
}

func TestUserMapping_Clone(t *testing.T) {
	var nilMapping *UserMapping
	assert.Nil(t, nilMapping.Clone())

	m := &UserMapping{MaskedUserID: "x", SafeBoxes: map[string]string{"a": "b"}}
	c := m.Clone()
	c.SafeBoxes["z"] = "y"
	assert.NotContains(t, m.SafeBoxes, "z")
}
