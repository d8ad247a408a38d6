package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIDDeterministic(t *testing.T) {
	ts := time.Date(2024, 1, 1, 9, 0, 0, 123456000, time.UTC)
	a := Event{UserID: "u1", Name: "view_item", Timestamp: ts}
	b := Event{UserID: "u1", Name: "view_item", Timestamp: ts.In(time.FixedZone("X", 3600))}

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, DeriveID(a.Key()), DeriveID(b.Key()))
}

func TestDeriveIDDistinguishesKeyParts(t *testing.T) {
	ts := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	base := DeriveID(Key{UserID: "u1", Timestamp: ts.UnixMicro(), Name: "view_item"})

	assert.NotEqual(t, base, DeriveID(Key{UserID: "u2", Timestamp: ts.UnixMicro(), Name: "view_item"}))
	assert.NotEqual(t, base, DeriveID(Key{UserID: "u1", Timestamp: ts.UnixMicro() + 1, Name: "view_item"}))
	assert.NotEqual(t, base, DeriveID(Key{UserID: "u1", Timestamp: ts.UnixMicro(), Name: "select_vendor"}))
	// separator prevents "ab"+"c" colliding with "a"+"bc"
	assert.NotEqual(t,
		DeriveID(Key{UserID: "ab", Timestamp: 1, Name: "c"}),
		DeriveID(Key{UserID: "a", Timestamp: 1, Name: "bc"}))
}

func TestSliceIterator(t *testing.T) {
	it := NewSliceIterator([]Event{{Name: "a"}, {Name: "b"}})

	e, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", e.Name)

	e, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", e.Name)

	_, err = it.Next()
	assert.ErrorIs(t, err, Done)
	_, err = it.Next()
	assert.ErrorIs(t, err, Done)
}
