package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/okieraised/relay-controller/internal/dispatcher"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/schedule_store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DailyRebootEvent = "daily_reboot"
	storeTimeout     = 5 * time.Second
)

var errAlreadyRunning = errors.New("scheduler already running")

func (s *Scheduler) calendarLoop(ctx context.Context) {
	s.CheckCalendar(ctx)
	ticker := time.NewTicker(s.cfg.ScheduleCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckCalendar(ctx)
		}
	}
}

// CheckCalendar fires the daily reboot when due and aligns relays with their schedules.
func (s *Scheduler) CheckCalendar(ctx context.Context) {
	now := s.now()
	s.checkDailyReboot(ctx, now)
	s.checkRelaySchedules(now)
}

// checkDailyReboot fires at most once per calendar day. The date is stored
// before the reboot is requested, so a restart caused by the reboot itself
// does not fire it again. A reboot time missed by more than RebootCatchUp is
// left for the next day.
func (s *Scheduler) checkDailyReboot(ctx context.Context, now time.Time) {
	s.mu.Lock()
	enabled, at := s.rebootEnabled, s.rebootTime
	s.mu.Unlock()
	if !enabled {
		return
	}
	due := at.On(now)
	if now.Before(due) || now.Sub(due) >= s.cfg.RebootCatchUp {
		return
	}

	today := schedule_store.DateOf(now)
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	last, err := s.store.LastFiredDate(sctx, DailyRebootEvent)
	if err != nil {
		s.calendarResult(DailyRebootEvent, "store_error")
		s.logger.Error("Failed to read daily reboot state, not rebooting", zap.Error(err))
		return
	}
	if last == today {
		return
	}
	if err := s.store.SetLastFiredDate(sctx, DailyRebootEvent, today); err != nil {
		s.calendarResult(DailyRebootEvent, "store_error")
		s.logger.Error("Failed to record daily reboot, not rebooting", zap.Error(err))
		return
	}

	req, err := s.dispatch.Submit(dispatcher.Request{
		Origin: dispatcher.OriginCalendar,
		Action: rules.RebootAction{Reason: "daily reboot at " + at.String()},
	})
	if err != nil {
		s.calendarResult(DailyRebootEvent, "submit_error")
		s.logger.Error("Failed to submit daily reboot", zap.Error(err))
		return
	}
	s.calendarResult(DailyRebootEvent, "fired")
	s.logger.Info("Daily reboot requested",
		zap.String("date", today), zap.String("dispatch_id", req.ID))
}

// checkRelaySchedules sends an io command to every scheduled relay whose
// state differs from its schedule. Pulsing and disabled relays are left alone.
func (s *Scheduler) checkRelaySchedules(now time.Time) {
	for _, cfg := range s.relays.Configs() {
		if cfg.Schedule == nil || !cfg.Schedule.Enabled || !cfg.Enabled {
			continue
		}
		st, err := s.relays.Status(cfg.ID)
		if err != nil || st.State == relay.StatePulsing {
			continue
		}
		want := cfg.Schedule.ActiveAt(now)
		if want == (st.State == relay.StateOn) {
			continue
		}
		kind := relay.CommandOff
		if want {
			kind = relay.CommandOn
		}
		event := fmt.Sprintf("schedule:%s", cfg.ID)
		_, err = s.dispatch.Submit(dispatcher.Request{
			Origin: dispatcher.OriginSchedule,
			Action: rules.IoAction{Target: cfg.ID, State: kind},
		})
		if err != nil {
			s.calendarResult(event, "submit_error")
			s.logger.Error("Failed to submit scheduled relay command",
				zap.String("relay_id", cfg.ID), zap.String("state", string(kind)), zap.Error(err))
			continue
		}
		s.calendarResult(event, string(kind))
		s.logger.Info("Relay schedule applied",
			zap.String("relay_id", cfg.ID), zap.String("state", string(kind)))
	}
}

func (s *Scheduler) calendarResult(event, result string) {
	s.metrics.CalendarEvents.WithLabelValues(event, result).Inc()
}
