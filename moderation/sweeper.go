package moderation

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/streamcart/livechat/globals"
	"github.com/streamcart/livechat/persistence"
)

// Sweeper periodically deactivates bans whose expiry has passed, so listings and the
// ban cache converge without every reader having to re-check expiry forever.
type Sweeper struct {
	store  persistence.Store
	runner *cron.Cron
	spec   string
}

func NewSweeper(store persistence.Store, spec string) *Sweeper {
	return &Sweeper{
		store:  store,
		runner: cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		spec:   spec,
	}
}

func (s *Sweeper) Start() error {
	_, err := s.runner.AddFunc(s.spec, s.sweep)
	if err != nil {
		return err
	}
	s.runner.Start()
	return nil
}

func (s *Sweeper) Stop() {
	s.runner.Stop()
}

func (s *Sweeper) sweep() {
	n, err := s.store.DeactivateExpiredBans(time.Now())
	if err != nil {
		globals.AppLogger.Error("expired-ban sweep failed", "error", err)
		return
	}
	if n > 0 {
		globals.AppLogger.Info("deactivated expired bans", "count", n)
	}
}
