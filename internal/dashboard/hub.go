// Package dashboard holds the live synthesized network state and serves it
// over HTTP.
package dashboard

import (
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/cauldronwatch/internal/dataset"
	"github.com/stellarlinkco/cauldronwatch/internal/telemetry"
)

const (
	EventTelemetry     = "telemetry"
	EventNetwork       = "network"
	EventDiscrepancies = "discrepancies"
)

// Event is published to subscribers whenever the hub state changes.
type Event struct {
	Type          string                    `json:"type"`
	At            time.Time                 `json:"at"`
	Readings      []telemetry.Reading       `json:"readings,omitempty"`
	Summary       *telemetry.NetworkSummary `json:"summary,omitempty"`
	Discrepancies []telemetry.Discrepancy   `json:"discrepancies,omitempty"`
}

// Observer receives every new snapshot, typically for metrics.
type Observer interface {
	ObserveReadings([]telemetry.Reading)
	ObserveDiscrepancies([]telemetry.Discrepancy)
}

// Hub owns the latest readings and the current discrepancy set.
type Hub struct {
	data *dataset.Dataset

	srcMu sync.Mutex
	src   telemetry.Source

	mu            sync.RWMutex
	readings      []telemetry.Reading
	network       []telemetry.Reading
	discrepancies []telemetry.Discrepancy
	updatedAt     time.Time

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int

	observer Observer
	now      func() time.Time
}

func NewHub(data *dataset.Dataset, src telemetry.Source) *Hub {
	h := &Hub{
		data: data,
		src:  src,
		subs: make(map[int]func(Event)),
		now:  time.Now,
	}
	// Readings and discrepancies exist from the first request on, the way
	// the page synthesized them on load.
	h.readings = h.synthesizeReadings()
	h.network = h.readings
	h.discrepancies = h.synthesizeDiscrepancies()
	h.updatedAt = h.now()
	return h
}

// SetObserver attaches obs and feeds it the current state.
func (h *Hub) SetObserver(obs Observer) {
	h.mu.Lock()
	h.observer = obs
	readings, ds := h.readings, h.discrepancies
	h.mu.Unlock()
	if obs != nil {
		obs.ObserveReadings(readings)
		obs.ObserveDiscrepancies(ds)
	}
}

func (h *Hub) Dataset() *dataset.Dataset { return h.data }

func (h *Hub) synthesizeReadings() []telemetry.Reading {
	h.srcMu.Lock()
	defer h.srcMu.Unlock()
	return telemetry.SynthesizeReadings(h.src, h.data.Cauldrons)
}

func (h *Hub) synthesizeDiscrepancies() []telemetry.Discrepancy {
	h.srcMu.Lock()
	defer h.srcMu.Unlock()
	return telemetry.SynthesizeDiscrepancies(h.src, h.data.Tickets, h.data.Cauldrons)
}

// Tick replaces the dashboard readings with a fresh independent draw.
func (h *Hub) Tick() []telemetry.Reading {
	readings := h.synthesizeReadings()
	summary := telemetry.Summarize(readings)

	h.mu.Lock()
	h.readings = readings
	h.updatedAt = h.now()
	at := h.updatedAt
	obs := h.observer
	h.mu.Unlock()

	if obs != nil {
		obs.ObserveReadings(readings)
	}
	h.publish(Event{Type: EventTelemetry, At: at, Readings: readings, Summary: &summary})
	return readings
}

// NetworkTick refreshes the network map view, which draws on its own cadence.
func (h *Hub) NetworkTick() []telemetry.Reading {
	readings := h.synthesizeReadings()

	h.mu.Lock()
	h.network = readings
	h.mu.Unlock()

	h.publish(Event{Type: EventNetwork, At: h.now(), Readings: readings})
	return readings
}

func (h *Hub) Readings() []telemetry.Reading {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]telemetry.Reading(nil), h.readings...)
}

func (h *Hub) NetworkReadings() []telemetry.Reading {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]telemetry.Reading(nil), h.network...)
}

func (h *Hub) Summary() telemetry.NetworkSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return telemetry.Summarize(h.readings)
}

func (h *Hub) UpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updatedAt
}

// DiscrepancyFilter narrows Discrepancies. Zero value matches everything.
type DiscrepancyFilter struct {
	Severity       telemetry.Severity
	UnresolvedOnly bool
}

func (h *Hub) Discrepancies(f DiscrepancyFilter) []telemetry.Discrepancy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]telemetry.Discrepancy, 0, len(h.discrepancies))
	for _, d := range h.discrepancies {
		if f.Severity != "" && d.Severity != f.Severity {
			continue
		}
		if f.UnresolvedOnly && d.Resolved {
			continue
		}
		out = append(out, d)
	}
	return out
}

// RegenerateDiscrepancies draws a new discrepancy set, as a page reload did.
func (h *Hub) RegenerateDiscrepancies() []telemetry.Discrepancy {
	ds := h.synthesizeDiscrepancies()
	return h.updateDiscrepancies(func([]telemetry.Discrepancy) []telemetry.Discrepancy { return ds })
}

// ApplyResolutions marks ids resolved and returns the updated set.
func (h *Hub) ApplyResolutions(ids []string) []telemetry.Discrepancy {
	ds := h.updateDiscrepancies(func(current []telemetry.Discrepancy) []telemetry.Discrepancy {
		return telemetry.ApplyResolutions(current, ids)
	})
	log.Printf("[hub] resolved %d discrepancies", len(ids))
	return ds
}

func (h *Hub) updateDiscrepancies(fn func([]telemetry.Discrepancy) []telemetry.Discrepancy) []telemetry.Discrepancy {
	h.mu.Lock()
	ds := fn(h.discrepancies)
	h.discrepancies = ds
	obs := h.observer
	h.mu.Unlock()

	if obs != nil {
		obs.ObserveDiscrepancies(ds)
	}
	h.publish(Event{Type: EventDiscrepancies, At: h.now(), Discrepancies: ds})
	return append([]telemetry.Discrepancy(nil), ds...)
}

// History synthesizes an hourly series ending at the current hour.
func (h *Hub) History(days int) []telemetry.HistoryPoint {
	end := h.now().Truncate(time.Hour)
	start := end.Add(-time.Duration(days*24-1) * time.Hour)

	h.srcMu.Lock()
	defer h.srcMu.Unlock()
	return telemetry.GenerateHistory(h.src, h.data.Cauldrons, days, start)
}

func (h *Hub) DailyStats() []telemetry.DailyStat {
	h.mu.RLock()
	ds := h.discrepancies
	h.mu.RUnlock()
	return telemetry.DailyStats(h.data.Tickets, ds)
}

func (h *Hub) FlaggedCouriers(threshold int) []telemetry.CourierFlag {
	h.mu.RLock()
	ds := h.discrepancies
	h.mu.RUnlock()
	return telemetry.FlagCouriers(ds, threshold)
}

// Subscribe registers fn for hub events and returns its cancel func.
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.subMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.subMu.Unlock()

	return func() {
		h.subMu.Lock()
		delete(h.subs, id)
		h.subMu.Unlock()
	}
}

func (h *Hub) publish(ev Event) {
	h.subMu.RLock()
	subs := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.subMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
