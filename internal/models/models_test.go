package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPresenceIsThreeCycle(t *testing.T) {
	var start *bool
	seen := []*bool{}
	value := start
	for i := 0; i < 3; i++ {
		value = NextPresence(value)
		seen = append(seen, value)
	}
	require.NotNil(t, seen[0])
	assert.True(t, *seen[0])
	require.NotNil(t, seen[1])
	assert.False(t, *seen[1])
	assert.Nil(t, seen[2])
}

func TestAttendanceListTotalsAndScan(t *testing.T) {
	yes, no := true, false
	list := AttendanceList{
		{StudentID: "a", Present: &yes},
		{StudentID: "b", Present: &no},
		{StudentID: "c"},
	}
	present, absent := list.Totals()
	assert.Equal(t, 1, present)
	assert.Equal(t, 1, absent)
	assert.Equal(t, 2, list.Find("c"))

	raw, err := list.Value()
	require.NoError(t, err)
	var decoded AttendanceList
	require.NoError(t, decoded.Scan(raw))
	assert.Len(t, decoded, 3)
	assert.Nil(t, decoded[2].Present)

	require.NoError(t, decoded.Scan(nil))
	assert.Empty(t, decoded)
}

func TestCivilDateUsesStudioZone(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	instant := time.Date(2025, 3, 11, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-10", FormatDate(CivilDate(instant, loc)))
	assert.Equal(t, "2025-03-11", FormatDate(CivilDate(instant, time.UTC)))
}

func TestAtAndClock(t *testing.T) {
	d, err := ParseDate("2025-03-10")
	require.NoError(t, err)
	start, err := At(d, "09:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), start)

	_, _, err = ParseClock("9:00")
	assert.Error(t, err)
	_, _, err = ParseClock("24:00")
	assert.Error(t, err)
	minutes, err := ClockMinutes("07:45")
	require.NoError(t, err)
	assert.Equal(t, 465, minutes)
	assert.Equal(t, 8, DaysBetween(d, AddDays(d, 8)))
}

func TestCreditExpiry(t *testing.T) {
	c := Credit{Quantity: 1, ValidUntil: time.Date(2025, 4, 9, 15, 0, 0, 0, time.UTC)}
	assert.False(t, c.ExpiredOn(time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC)))
	assert.True(t, c.ExpiredOn(time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, c.Remaining())
}

func TestFixedSlotRecursOn(t *testing.T) {
	slot := FixedSlot{DayOfWeek: int(time.Monday)}
	assert.True(t, slot.RecursOn(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))
	assert.False(t, slot.RecursOn(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)))
}
