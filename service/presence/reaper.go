package presence

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/tools/safe"

	"go.uber.org/zap"
)

const DefaultReapInterval = 5 * time.Minute

// Reaper periodically removes sessions whose transport died without a close
// event. Removal is compare-and-remove against the snapshotted handle, so a
// user who logged in again after the snapshot keeps the new session.
type Reaper struct {
	reg      *Registry
	interval time.Duration
	obs      Observer
	log      *zap.Logger
}

func NewReaper(reg *Registry, interval time.Duration, obs Observer, log *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if log == nil {
		log = logger.Named("reaper")
	}
	return &Reaper{reg: reg, interval: interval, obs: orNop(obs), log: log}
}

func (r *Reaper) Interval() time.Duration { return r.interval }

// Run sweeps every interval until ctx is done. Sweeps never overlap.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	r.log.Info("reaper started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-t.C:
			if n := r.SweepOnce(); n > 0 {
				r.log.Info("reaper sweep", zap.Int("reaped", n), zap.Int("online", r.reg.Size()))
			}
		}
	}
}

// SweepOnce runs one pass and returns how many sessions it removed.
func (r *Reaper) SweepOnce() int {
	var dead []Session
	for _, s := range r.reg.Sessions() {
		c := s.Conn
		live := true
		if err := safe.Call(func() error { live = c.Alive(); return nil }); err != nil {
			r.log.Warn("liveness check failed",
				zap.String("user_id", s.UserID), zap.String("socket_id", c.ID()), zap.Error(err))
			continue
		}
		if !live {
			dead = append(dead, s)
		}
	}

	n := 0
	for _, s := range dead {
		if !r.reg.RemoveIf(s.UserID, s.Conn) {
			continue
		}
		n++
		r.obs.Reaped(s.UserID, s.Conn.ID())
		// 收集后统一关闭，避免持锁期间关闭 socket
		c := s.Conn
		if err := safe.Call(func() error { return c.Close() }); err != nil {
			r.log.Debug("close reaped connection",
				zap.String("user_id", s.UserID), zap.String("socket_id", c.ID()), zap.Error(err))
		}
	}
	return n
}
