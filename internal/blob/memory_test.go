package blob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Compressed(t *testing.T) {
	m := NewMemory("leads", true)
	ctx := context.Background()

	key, err := m.Put(ctx, "raw/a.csv", []byte("a\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, "raw/a.csv.gz", key.String())

	ok, _ := m.Exists(ctx, "raw/a.csv")
	assert.False(t, ok)
	ok, _ = m.Exists(ctx, key.String())
	assert.True(t, ok)

	body, err := m.Get(ctx, key.String())
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(body))
}

func TestMemory_Overwrite(t *testing.T) {
	m := NewMemory("leads", false)
	ctx := context.Background()

	_, err := m.Put(ctx, "raw/a.csv", []byte("v1"))
	require.NoError(t, err)
	_, err = m.Put(ctx, "raw/a.csv", []byte("v2"))
	require.NoError(t, err)

	body, err := m.Get(ctx, "raw/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(body))
	assert.Len(t, m.Keys(), 1)
}

func TestMemory_Errors(t *testing.T) {
	m := NewMemory("leads", false)
	ctx := context.Background()

	_, err := m.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Put(ctx, "", []byte("x"))
	assert.Error(t, err)
}

func TestMemory_PresignPut(t *testing.T) {
	u, err := NewMemory("leads", false).PresignPut(context.Background(), "raw/a.csv", "text/csv", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, u, "memory://leads/raw/a.csv?")
}

func TestUploadKeyAndSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"leads.csv", "raw/leads.csv"},
		{"../../etc/passwd", "raw/passwd"},
		{`C:\Users\me\leads.csv`, "raw/leads.csv"},
		{"", "raw/upload"},
		{"dir/", "raw/dir"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UploadKey(tt.in), tt.in)
	}
}

func TestCleanKey(t *testing.T) {
	assert.Equal(t, "raw/a.csv", CleanKey("s3://leads/raw/a.csv"))
	assert.Equal(t, "raw/a.csv", CleanKey("/raw/a.csv"))
	assert.Equal(t, "", CleanKey("s3://leads"))
}
