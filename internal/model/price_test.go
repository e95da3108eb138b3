package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourceKind(t *testing.T) {
	tests := []struct {
		in      string
		want    SourceKind
		wantErr bool
	}{
		{"local", SourceLocal, false},
		{"FEDERAL", SourceFederal, false},
		{"  Local ", SourceLocal, false},
		{"state", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSourceKind(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown source kind")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSourceKind_Title(t *testing.T) {
	assert.Equal(t, "Local", SourceLocal.Title())
	assert.Equal(t, "Federal", SourceFederal.Title())
	assert.Equal(t, "other", SourceKind("other").Title())
	assert.Len(t, AllSourceKinds(), 2)
}

func TestDay(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	got := Day(time.Date(2024, 1, 10, 22, 30, 0, 0, est))
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), got, "converted to UTC before truncation")

	got = Day(time.Date(2024, 1, 10, 23, 59, 59, 999, time.UTC))
	assert.Equal(t, "2024-01-10", got.Format(DateLayout))
}
