package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// syncStaleAfter is the ceiling after which a still-"running" sync record is
// considered stuck and force-reset.
const syncStaleAfter = 6 * time.Hour

// SyncStatus is the coarse status record for the long-running snapraid sync.
// Callers can only observe completion or poll this record; the operation is not
// cancellable mid-flight.
type SyncStatus struct {
	Running    bool       `json:"running"`
	OpID       string     `json:"opId,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Success    *bool      `json:"success,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

func (s *Service) SyncStatus() SyncStatus {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.syncStat
}

// StartSync kicks off snapraid sync in the background. A second request while
// one runs is refused unless the previous record is stale.
func (s *Service) StartSync(ctx context.Context) (SyncStatus, error) {
	entries, err := s.store.Entries()
	if err != nil {
		return SyncStatus{}, err
	}
	if countRole(entries, RoleParity) == 0 {
		return SyncStatus{}, fmt.Errorf("%w: no parity disks configured", ErrPoolInvariant)
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if s.syncStat.Running {
		if s.syncStat.StartedAt != nil && time.Since(*s.syncStat.StartedAt) > syncStaleAfter {
			s.log.Warn().Str("opId", s.syncStat.OpID).Msg("stale sync record force-reset")
		} else {
			return s.syncStat, fmt.Errorf("%w: sync %s in progress", ErrBusy, s.syncStat.OpID)
		}
	}
	now := time.Now().UTC()
	s.syncStat = SyncStatus{Running: true, OpID: uuid.NewString(), StartedAt: &now}
	if s.metrics != nil {
		s.metrics.SetSyncRunning(true)
	}
	go s.runSync(s.syncStat.OpID)
	return s.syncStat, nil
}

func (s *Service) runSync(opID string) {
	// Detached from the request context: the sync outlives the HTTP call. A
	// full-pool sync legitimately runs for hours, so it carries its own long
	// deadline rather than the per-command timeout used for mount and format
	// calls.
	timeout := s.cfg.SyncTimeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := s.run.Run(ctx, "snapraid", "sync")

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if s.syncStat.OpID != opID {
		return // force-reset raced us; drop the stale outcome
	}
	now := time.Now().UTC()
	ok := err == nil
	s.syncStat.Running = false
	s.syncStat.FinishedAt = &now
	s.syncStat.Success = &ok
	if err != nil {
		s.syncStat.Detail = err.Error()
		s.log.Warn().Err(err).Msg("snapraid sync failed")
	} else {
		s.log.Info().Str("opId", opID).Msg("snapraid sync completed")
	}
	if s.metrics != nil {
		s.metrics.SetSyncRunning(false)
	}
}

// StartScheduler arms the cron schedule for periodic syncs when one is
// configured. Returns the started scheduler (nil when disabled).
func (s *Service) StartScheduler() (*cron.Cron, error) {
	if s.cfg.SyncSchedule == "" {
		return nil, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.SyncSchedule, func() {
		if _, err := s.StartSync(context.Background()); err != nil {
			s.log.Warn().Err(err).Msg("scheduled sync not started")
		}
	}); err != nil {
		return nil, fmt.Errorf("sync schedule %q: %w", s.cfg.SyncSchedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info().Str("schedule", s.cfg.SyncSchedule).Msg("snapraid sync scheduler armed")
	return c, nil
}

func (s *Service) StopScheduler() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
