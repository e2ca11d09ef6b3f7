package maintenance

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/umlcraft/umlcraft-backend/internal/preview"
)

type Scheduler struct {
	manager *preview.Manager
	maxIdle time.Duration
	cron    *cron.Cron
}

func NewScheduler(manager *preview.Manager, maxIdle time.Duration) *Scheduler {
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}
	return &Scheduler{manager: manager, maxIdle: maxIdle}
}

// Start registers the cleanup job. Idle preview sessions are pruned
// every 5 minutes.
func (s *Scheduler) Start() {
	c := cron.New(cron.WithSeconds())

	_, err := c.AddFunc("0 */5 * * * *", func() {
		pruned := s.manager.PruneIdle(s.maxIdle)
		if pruned > 0 {
			log.Printf("[maintenance] pruned=%d idle preview sessions", pruned)
		}
	})
	if err != nil {
		log.Printf("Failed to create cron job: %v", err)
		return
	}

	log.Println("Cron scheduler started (pruning idle preview sessions every 5 minutes)")
	s.cron = c
	c.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
