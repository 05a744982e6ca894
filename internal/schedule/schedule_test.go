package schedule

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

func TestNextRunUsesCronExpressionWhenSet(t *testing.T) {
	s := &Scheduler{parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)}
	sched := model.IngestionSchedule{ID: "s1", CronExpr: "0 * * * *"}
	next, err := s.nextRun(sched)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if next.Minute() != 0 {
		t.Fatalf("expected next run on the hour, got %v", next)
	}
}

func TestNextRunFallsBackToHourlyFrequency(t *testing.T) {
	s := &Scheduler{}
	sched := model.IngestionSchedule{ID: "s1", Frequency: model.FrequencyHourly}
	before := time.Now().UTC()
	next, err := s.nextRun(sched)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if next.Sub(before) < 59*time.Minute || next.Sub(before) > 61*time.Minute {
		t.Fatalf("expected next run ~1 hour out, got %v", next.Sub(before))
	}
}

func TestNextRunErrorsWithoutCronOrRecognizedFrequency(t *testing.T) {
	s := &Scheduler{}
	sched := model.IngestionSchedule{ID: "s1", Frequency: model.FrequencyCustom}
	if _, err := s.nextRun(sched); err == nil {
		t.Fatal("expected an error for CUSTOM frequency with no cron_expression")
	}
}

func TestNextDailyRunAdvancesToTomorrowWhenHourAlreadyPassed(t *testing.T) {
	hour := 3
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next := nextDailyRun(now, &hour)
	if next.Day() != 31 || next.Hour() != 3 {
		t.Fatalf("expected next run at 3am the following day, got %v", next)
	}
}
