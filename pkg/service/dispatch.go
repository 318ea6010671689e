package service

import (
	"context"
	"time"

	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/timer"
)

// Run the dispatch loop until Stop.
func (s *Service) run() {
	defer close(s.loopDone)

	wait := time.NewTimer(0)
	defer wait.Stop()

	log.Info("starting dispatcher")
	for {
		select {
		case <-s.stopChan:
			return

		case <-wait.C:

		case <-s.wake:
			log.Trace("dispatching")
		}

		wait.Reset(s.dispatch(s.now()))
	}
}

// Queue every due process and return how long to sleep until the next one.
func (s *Service) dispatch(now time.Time) time.Duration {
	entities := s.registry.List(s.kind)
	anchors := s.anchors(entities)

	s.Lock()
	defer s.Unlock()

	if s.state != Running {
		return s.tickPeriod
	}

	active := map[int64]bool{}
	scheduled := map[int64]bool{}

	for _, entity := range entities {
		if !entity.Active {
			continue
		}
		active[entity.Id] = true

		if entity.Schedule == nil {
			continue
		}
		scheduled[entity.Id] = true

		e := s.entries[entity.Id]
		if e == nil || e.schedule != *entity.Schedule || e.immediate != entity.Immediate {
			e = s.resetEntryNoLock(entity, anchors, now)
		}

		if e.invalid || e.due.After(now) {
			continue
		}

		if _, ok := s.inFlight[entity.Id]; ok {
			continue
		}

		log.Debugf("new - task - id: %d, due: %s", entity.Id, e.due.Format(time.RFC3339))
		s.enqueueNoLock(s.newTaskNoLock(entity, e.due))
	}

	// Removed or deactivated processes
	for id := range s.entries {
		if !scheduled[id] {
			log.Debug("del - process - id:", id)
			delete(s.entries, id)
		}
	}
	for id := range s.inFlight {
		if !active[id] {
			s.purgeNoLock(id)
		}
	}

	wait := s.tickPeriod
	for id, e := range s.entries {
		if e.invalid {
			continue
		}
		if _, ok := s.inFlight[id]; ok {
			continue
		}
		if d := e.due.Sub(now); d < wait {
			wait = d
		}
	}

	return max(wait, 0)
}

// Start timestamps of the last successful runs of processes not seen before.
func (s *Service) anchors(entities []*registry.Entity) map[int64]time.Time {
	s.Lock()
	unseen := []int64{}
	for _, entity := range entities {
		if _, ok := s.entries[entity.Id]; !ok && entity.Active && entity.Schedule != nil {
			unseen = append(unseen, entity.Id)
		}
	}
	s.Unlock()

	anchors := map[int64]time.Time{}
	if s.logger == nil {
		return anchors
	}

	for _, id := range unseen {
		ts, ok, err := s.logger.LastSuccessTimestamp(context.Background(), id)
		if err != nil {
			log.Warn("Failed to read last successful run of process", id, err)
			continue
		}
		if ok {
			anchors[id] = ts
		}
	}
	return anchors
}

// Compute the scheduling state of a new or changed process.
func (s *Service) resetEntryNoLock(entity *registry.Entity, anchors map[int64]time.Time, now time.Time) *entry {
	e := &entry{
		schedule:  *entity.Schedule,
		immediate: entity.Immediate,
	}
	s.entries[entity.Id] = e

	var err error
	if last, ok := anchors[entity.Id]; ok {
		e.due, err = timer.DueAfter(&e.schedule, last)
	} else {
		e.due, err = timer.FirstDue(&e.schedule, e.immediate, now)
	}

	if err != nil {
		e.invalid = true
		log.Warnf("nok - process - id: %d, not scheduled: %v", entity.Id, err)
		return e
	}

	log.Infof("new - process - id: %d, %s, due: %s", entity.Id, e.schedule.String(), e.due.Format(time.RFC3339))
	return e
}
