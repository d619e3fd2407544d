package server

import (
	"testing"
	"time"

	"github.com/deskpilot/deskpilot/config"
)

func TestSchedulerDue(t *testing.T) {
	s := &Scheduler{Cfg: config.KnowledgeConfig{ReindexCron: "*/5 * * * *"}}

	// Never ran: due as soon as the expression fires.
	if !s.due(time.Date(2026, 1, 1, 0, 5, 30, 0, time.UTC)) {
		t.Fatalf("expected due when last run is unset and a slot has passed")
	}

	s.lastRun = time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	if s.due(time.Date(2026, 1, 1, 0, 7, 0, 0, time.UTC)) {
		t.Fatalf("not due before the next cron slot")
	}
	if !s.due(time.Date(2026, 1, 1, 0, 10, 1, 0, time.UTC)) {
		t.Fatalf("due once the next cron slot has passed")
	}
}

func TestSchedulerDue_InvalidExpression(t *testing.T) {
	s := &Scheduler{Cfg: config.KnowledgeConfig{ReindexCron: "not a cron"}}
	if s.due(time.Now()) {
		t.Fatalf("invalid expressions must never fire")
	}
}
