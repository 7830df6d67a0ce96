package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBTime_Scan(t *testing.T) {
	want := time.Date(2024, 3, 9, 17, 4, 5, 0, time.UTC)
	tests := []struct {
		name  string
		value any
		valid bool
	}{
		{"sqlite text", "2024-03-09T17:04:05Z", true},
		{"stored layout", want.Format(timeLayout), true},
		{"bytes", []byte("2024-03-09T18:04:05+01:00"), true},
		{"postgres timestamptz", want.In(time.FixedZone("x", 3600)), true},
		{"null", nil, false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got dbTime
			require.NoError(t, got.Scan(tt.value))
			assert.Equal(t, tt.valid, got.Valid)
			if tt.valid {
				assert.Equal(t, want, got.Time)
				assert.Equal(t, time.UTC, got.Time.Location())
				require.NotNil(t, got.Ptr())
			} else {
				assert.Nil(t, got.Ptr())
			}
		})
	}
}

func TestDBTime_ScanRejectsGarbage(t *testing.T) {
	var got dbTime
	assert.Error(t, got.Scan("yesterday"))
	assert.Error(t, got.Scan(42))
	assert.False(t, got.Valid)
}

func TestTimeLayout_sortsAsText(t *testing.T) {
	base := time.Date(2024, 3, 9, 17, 4, 5, 0, time.UTC)
	whole := base.Format(timeLayout)
	half := base.Add(500 * time.Millisecond).Format(timeLayout)
	next := base.Add(time.Second).Format(timeLayout)

	assert.Less(t, whole, half)
	assert.Less(t, half, next)
	assert.Len(t, half, len(whole))
}
