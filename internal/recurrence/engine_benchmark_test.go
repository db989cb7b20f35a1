package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineGenerateDates(b *testing.B) {
	engine := NewEngine(90)
	loc := mustLocation(b, "Asia/Tokyo")
	start := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)

	schedule := Schedule{
		Kind:      KindWeekly,
		StartTime: MustParseTimeOfDay("09:00"),
		EndTime:   MustParseTimeOfDay("10:30"),
		StartDate: &start,
		EndDate:   &end,
		DaysOfWeek: []time.Weekday{
			time.Monday,
			time.Tuesday,
			time.Wednesday,
			time.Thursday,
			time.Friday,
		},
		Interval: 1,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dates, err := engine.GenerateDates(schedule, loc, start, end)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(dates) == 0 {
			b.Fatal("expected dates to be generated")
		}
	}
}
