package change

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityRank(t *testing.T) {
	assert.Equal(t, 1, PriorityCritical.Rank())
	assert.Equal(t, 2, PriorityHigh.Rank())
	assert.Equal(t, 3, Priority("Low").Rank(), "unknown priorities sort last")
	assert.Less(t, PriorityCritical.Rank(), PriorityHigh.Rank(), "Critical must order before High")
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Priority
		wantErr bool
	}{
		{name: "critical", raw: "Critical", want: PriorityCritical},
		{name: "high", raw: "High", want: PriorityHigh},
		{name: "medium rejected", raw: "Medium", wantErr: true},
		{name: "case sensitive", raw: "critical", wantErr: true},
		{name: "empty rejected", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePriority(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordSentinels(t *testing.T) {
	rec := Record{ID: "CHG001"}
	assert.False(t, rec.StartSet())
	assert.False(t, rec.EndSet())

	rec.ActualStart = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	assert.True(t, rec.StartSet())
	assert.False(t, rec.EndSet())
}
