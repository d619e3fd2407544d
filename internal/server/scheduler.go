package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/deskpilot/deskpilot/config"
	"github.com/deskpilot/deskpilot/internal/knowledge"
)

// Scheduler rebuilds the knowledge index on a cron schedule so edits to the
// source file show up without a restart.
type Scheduler struct {
	Cfg     config.KnowledgeConfig
	Indexer *knowledge.Indexer
	Rdb     *redis.Client
	Stop    chan struct{}

	logger  *log.Logger
	lastRun time.Time
}

func NewScheduler(cfg config.KnowledgeConfig, ix *knowledge.Indexer, rdb *redis.Client) *Scheduler {
	return &Scheduler{
		Cfg:     cfg,
		Indexer: ix,
		Rdb:     rdb,
		Stop:    make(chan struct{}),
		logger:  log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

func (s *Scheduler) Start() {
	if s.Cfg.ReindexCron == "" {
		return
	}
	if _, err := cronexpr.Parse(s.Cfg.ReindexCron); err != nil {
		s.logger.Printf("invalid reindex_cron %q, scheduled rebuilds disabled: %v", s.Cfg.ReindexCron, err)
		return
	}
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if !s.due(time.Now()) {
		return
	}
	ctx := context.Background()

	// distributed lock to avoid duplicate rebuilds across replicas
	if s.Rdb != nil {
		ok, _ := s.Rdb.SetNX(ctx, "sched:lock:reindex", "1", 2*time.Minute).Result()
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, "sched:lock:reindex")
	}

	s.lastRun = time.Now()
	records, err := knowledge.LoadRecords(s.Cfg.SourcePath)
	if err != nil {
		s.logger.Printf("scheduled reindex: loading %s failed: %v", s.Cfg.SourcePath, err)
		reindexTotal.WithLabelValues("failed").Inc()
		return
	}
	if err := s.Indexer.Rebuild(ctx, records); err != nil {
		s.logger.Printf("scheduled reindex failed, keeping previous snapshot: %v", err)
		reindexTotal.WithLabelValues("failed").Inc()
		return
	}
	reindexTotal.WithLabelValues("succeeded").Inc()
}

// due reports whether the cron schedule fired since the last run.
func (s *Scheduler) due(now time.Time) bool {
	expr, err := cronexpr.Parse(s.Cfg.ReindexCron)
	if err != nil {
		return false
	}
	base := s.lastRun
	if base.IsZero() {
		base = now.Add(-time.Minute)
	}
	next := expr.Next(base)
	return !next.After(now)
}
