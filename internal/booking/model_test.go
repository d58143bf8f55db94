package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "10:00", want: NewTimeOfDay(10, 0)},
		{in: "20:30", want: NewTimeOfDay(20, 30)},
		{in: "00:00", want: NewTimeOfDay(0, 0)},
		{in: "9:00", wantErr: true},
		{in: "25:00", wantErr: true},
		{in: "10:60", wantErr: true},
		{in: "", wantErr: true},
		{in: "10:00:00", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestTimeOfDayString(t *testing.T) {
	assert.Equal(t, "10:00", NewTimeOfDay(10, 0).String())
	assert.Equal(t, "09:30", NewTimeOfDay(9, 30).String())
	assert.Equal(t, "20:30", NewTimeOfDay(20, 30).String())
}

func TestTimeOfDayRoundTrip(t *testing.T) {
	for _, s := range []string{"10:00", "13:30", "20:30"} {
		parsed, err := ParseTimeOfDay(s)
		require.NoError(t, err)
		assert.Equal(t, s, parsed.String())
	}
}

func TestOnSlotBoundary(t *testing.T) {
	assert.True(t, NewTimeOfDay(10, 0).OnSlotBoundary())
	assert.True(t, NewTimeOfDay(10, 30).OnSlotBoundary())
	assert.False(t, NewTimeOfDay(10, 15).OnSlotBoundary())
	assert.False(t, NewTimeOfDay(10, 29).OnSlotBoundary())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusScheduled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", d.Format(DateLayout))

	_, err = ParseDate("01-01-2024")
	assert.Error(t, err)
}
