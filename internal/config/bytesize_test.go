package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"5MB", 5 * 1024 * 1024, false},
		{"1.5 GB", int64(1.5 * float64(1<<30)), false},
		{"500KB", 500 * 1024, false},
		{"2tb", 2 << 40, false},
		{"5242880", 5242880, false},
		{"100b", 100, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-5MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Bytes())
		})
	}
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "5MB", ByteSize(5*1024*1024).String())
	assert.Equal(t, "1.5GB", ByteSize(1.5*float64(1<<30)).String())
	assert.Equal(t, "512B", ByteSize(512).String())
}

func TestByteSize_UnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("10MB")))
	assert.Equal(t, int64(10*1024*1024), b.Bytes())
}

func TestByteSize_UnmarshalJSON(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalJSON([]byte(`"1GB"`)))
	assert.Equal(t, int64(1<<30), b.Bytes())

	require.NoError(t, b.UnmarshalJSON([]byte(`4096`)))
	assert.Equal(t, int64(4096), b.Bytes())
}
