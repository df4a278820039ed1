package engine

import (
	"fmt"
	"time"

	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/session"
	"github.com/dougsko/fpvlinkd/pkg/storage"
	"github.com/dougsko/fpvlinkd/pkg/telemetry"
	"github.com/dougsko/fpvlinkd/pkg/txpower"
)

// onSessionEvent runs under the engine lock for every request lifecycle
// step of either session
func (e *Engine) onSessionEvent(ev session.Event) {
	target := ev.Target.String()

	switch ev.Type {
	case session.EventSent:
		e.sentAt[ev.RequestID] = ev.Time
		e.metrics.SetSessionState(target, int(session.StateSent))
	case session.EventQueued:
		logging.Debug("engine", fmt.Sprintf("Request %s queued on %s", ev.RequestID, target))
	}

	if ev.Type.Terminal() {
		var latency time.Duration
		if sent, ok := e.sentAt[ev.RequestID]; ok {
			latency = ev.Time.Sub(sent)
			delete(e.sentAt, ev.RequestID)
		}
		e.metrics.RecordCommand(target, string(ev.Type), ev.RetryCount, latency)
		if s, ok := e.sessions[ev.Target]; ok {
			e.metrics.SetSessionState(target, int(s.State()))
		}

		fields := map[string]interface{}{
			"request": ev.RequestID.String(),
			"kind":    string(ev.Kind),
			"outcome": string(ev.Type),
		}
		if ev.Err != nil {
			logging.Warn("engine", fmt.Sprintf("Request on %s failed: %v", target, ev.Err), fields)
		} else {
			logging.Info("engine", fmt.Sprintf("Request on %s finished", target), fields)
		}
		e.recordLocked(ev)
	}

	for id, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			logging.Warn("engine", fmt.Sprintf("Dropping event for slow subscriber %d", id))
		}
	}
}

// recordLocked hands a terminal event to the history writer without
// blocking the caller
func (e *Engine) recordLocked(ev session.Event) {
	if e.store == nil || e.closed {
		return
	}
	entry := storage.HistoryEntry{
		Timestamp:  ev.Time,
		RequestID:  ev.RequestID.String(),
		Target:     ev.Target.String(),
		Kind:       string(ev.Kind),
		CommandID:  ev.CommandID,
		Outcome:    string(ev.Type),
		RetryCount: ev.RetryCount,
		Error:      ev.Error,
	}
	select {
	case e.history <- entry:
	default:
		logging.Warn("engine", "History queue full, dropping entry", map[string]interface{}{
			"request": entry.RequestID,
		})
	}
}

func (e *Engine) historyWriter() {
	defer e.wg.Done()
	for entry := range e.history {
		if e.store == nil {
			continue
		}
		if err := e.store.RecordCommand(entry); err != nil {
			logging.Error("storage", fmt.Sprintf("Failed to record command history: %v", err))
		}
	}
}

// Subscribe returns a channel receiving every session event and a function
// to stop the subscription. Slow readers lose events.
func (e *Engine) Subscribe(buffer int) (<-chan session.Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan session.Event, buffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subscribers[id]; ok {
			close(c)
			delete(e.subscribers, id)
		}
	}
}

// History returns recorded request outcomes, newest first
func (e *Engine) History(query storage.HistoryQuery) ([]storage.HistoryEntry, error) {
	if e.store == nil {
		return []storage.HistoryEntry{}, nil
	}
	return e.store.GetCommandHistory(query)
}

// UpdateTelemetry feeds a vehicle report into the engine
func (e *Engine) UpdateTelemetry(stats telemetry.VehicleStats) {
	e.feed.Update(stats)
}

// handleTelemetry is the feed callback. In automatic mode the controller
// follows the reported vehicle power.
func (e *Engine) handleTelemetry(stats telemetry.VehicleStats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.metrics.TelemetryReceived()
	if e.power.Mode() == txpower.ModeAuto {
		e.syncControllerPowerLocked("telemetry")
		return
	}
	e.recomputeLocked()
}
