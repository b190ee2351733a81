package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAddJob_InvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestAddJob_ValidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("expected no error for valid expression, got %v", err)
	}
}

func TestAddEvery_Fires(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.AddEvery(20*time.Millisecond, func() { fired.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Error("expected interval job to fire at least once")
	}
}

func TestValidateExpr(t *testing.T) {
	if err := ValidateExpr("0 9 * * *"); err != nil {
		t.Errorf("expected valid expression, got %v", err)
	}
	if err := ValidateExpr("bogus"); err == nil {
		t.Error("expected error for bogus expression")
	}
}
