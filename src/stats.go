package main

import (
	"cmp"
	"context"
	"errors"
	"log"
	"maps"
	"strconv"
	"time"

	"github.com/ryansname/modewatch/src/window"
)

// ModeValue is the mode of one window, OK is false when the window had no data
type ModeValue[T cmp.Ordered] struct {
	Value T
	OK    bool
}

// FloatTopicData holds current value and windowed modes for a numeric topic
type FloatTopicData struct {
	Current float64
	Mode    map[time.Duration]ModeValue[float64]
}

// StringTopicData holds current value and windowed modes for a string topic
type StringTopicData struct {
	Current string
	Mode    map[time.Duration]ModeValue[string]
}

// topicSeries keeps one tracker per configured window for a single topic.
// Each observation is stored once per window, so memory grows with len(windows)
// times the retained log; a tracker's window width is fixed at construction.
type topicSeries[T cmp.Ordered] struct {
	windows  []time.Duration
	trackers []*window.Tracker[T]
}

func newTopicSeries[T cmp.Ordered](windows []time.Duration) *topicSeries[T] {
	s := &topicSeries[T]{windows: windows}
	for _, w := range windows {
		s.trackers = append(s.trackers, window.New[T](w.Seconds()))
	}
	return s
}

func (s *topicSeries[T]) add(timestamp float64, value T) {
	for _, tr := range s.trackers {
		tr.Add(timestamp, value)
	}
}

// modes computes the mode for every window ending at now
func (s *topicSeries[T]) modes(now float64) map[time.Duration]ModeValue[T] {
	result := make(map[time.Duration]ModeValue[T], len(s.windows))
	for i, tr := range s.trackers {
		v, err := tr.Mode(now)
		if errors.Is(err, window.ErrEmptyWindow) {
			result[s.windows[i]] = ModeValue[T]{}
			continue
		}
		result[s.windows[i]] = ModeValue[T]{Value: v, OK: true}
	}
	return result
}

func (s *topicSeries[T]) prune(cutoff float64) int {
	removed := 0
	for _, tr := range s.trackers {
		removed += tr.Prune(cutoff)
	}
	return removed
}

// toSeconds converts a wall clock time into tracker timestamps (seconds, ms resolution)
func toSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// modeState owns the per-topic trackers and the latest computed modes
type modeState struct {
	windows      []time.Duration
	topicData    map[string]any
	floatSeries  map[string]*topicSeries[float64]
	stringSeries map[string]*topicSeries[string]
}

func newModeState(windows []time.Duration) *modeState {
	return &modeState{
		windows:      windows,
		topicData:    make(map[string]any),
		floatSeries:  make(map[string]*topicSeries[float64]),
		stringSeries: make(map[string]*topicSeries[string]),
	}
}

// handle records msg observed at now and refreshes the topic's modes.
// Returns false if the message was dropped.
func (s *modeState) handle(msg SensorMessage, now time.Time) bool {
	ts := toSeconds(now)

	if value, err := strconv.ParseFloat(msg.Value, 64); err == nil {
		existing, exists := s.topicData[msg.Topic]
		data, ok := existing.(*FloatTopicData)
		if exists && !ok {
			log.Printf("ERROR: Topic %s type changed from string to float (value=%s)\n", msg.Topic, msg.Value)
			return false
		}
		if !exists {
			data = &FloatTopicData{}
			s.topicData[msg.Topic] = data
			s.floatSeries[msg.Topic] = newTopicSeries[float64](s.windows)
		}

		series := s.floatSeries[msg.Topic]
		series.add(ts, value)
		data.Current = value
		data.Mode = series.modes(ts)
		return true
	}

	existing, exists := s.topicData[msg.Topic]
	data, ok := existing.(*StringTopicData)
	if exists && !ok {
		log.Printf("ERROR: Topic %s type changed from float to string (value=%s)\n", msg.Topic, msg.Value)
		return false
	}
	if !exists {
		data = &StringTopicData{}
		s.topicData[msg.Topic] = data
		s.stringSeries[msg.Topic] = newTopicSeries[string](s.windows)
	}

	series := s.stringSeries[msg.Topic]
	series.add(ts, msg.Value)
	data.Current = msg.Value
	data.Mode = series.modes(ts)
	return true
}

// refresh recomputes every topic's modes at now so quiet topics age out
func (s *modeState) refresh(now time.Time) {
	ts := toSeconds(now)
	for topic, series := range s.floatSeries {
		s.topicData[topic].(*FloatTopicData).Mode = series.modes(ts)
	}
	for topic, series := range s.stringSeries {
		s.topicData[topic].(*StringTopicData).Mode = series.modes(ts)
	}
}

// prune drops observations older than retention and returns how many were removed
func (s *modeState) prune(now time.Time, retention time.Duration) int {
	cutoff := toSeconds(now.Add(-retention))
	removed := 0
	for _, series := range s.floatSeries {
		removed += series.prune(cutoff)
	}
	for _, series := range s.stringSeries {
		removed += series.prune(cutoff)
	}
	return removed
}

// cloneTopicData creates a deep copy of topicData for safe concurrent access
func cloneTopicData(topicData map[string]any) map[string]any {
	clone := make(map[string]any, len(topicData))
	for topic, data := range topicData {
		switch d := data.(type) {
		case *FloatTopicData:
			clone[topic] = &FloatTopicData{
				Current: d.Current,
				Mode:    maps.Clone(d.Mode),
			}
		case *StringTopicData:
			clone[topic] = &StringTopicData{
				Current: d.Current,
				Mode:    maps.Clone(d.Mode),
			}
		}
	}
	return clone
}

// modeWorker receives messages, maintains windowed modes, and sends to output channel
func modeWorker(
	ctx context.Context,
	msgChan <-chan SensorMessage,
	outputChan chan<- DisplayData,
	windows []time.Duration,
	retention time.Duration,
) {
	state := newModeState(windows)

	// Debouncing state
	var lastSendTime time.Time
	var debounceTimer *time.Timer
	var debounceTimerC <-chan time.Time

	// Cleanup ticker to remove readings beyond retention, also ages out quiet topics
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	send := func() bool {
		select {
		case outputChan <- DisplayData{TopicData: cloneTopicData(state.topicData)}:
			lastSendTime = time.Now()
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case msg := <-msgChan:
			if !state.handle(msg, time.Now()) {
				continue
			}

			// Debounce: send immediately if enough time has passed, otherwise schedule
			timeSinceLastSend := time.Since(lastSendTime)
			if timeSinceLastSend >= time.Second {
				if !send() {
					return
				}
			} else if debounceTimer == nil {
				debounceTimer = time.NewTimer(time.Second - timeSinceLastSend)
				debounceTimerC = debounceTimer.C
			}

		case <-debounceTimerC:
			debounceTimer = nil
			debounceTimerC = nil
			if !send() {
				return
			}

		case <-cleanupTicker.C:
			now := time.Now()
			if removed := state.prune(now, retention); removed > 0 {
				log.Printf("Pruned %d tracker entries older than %v\n", removed, retention)
			}
			state.refresh(now)
			if len(state.topicData) > 0 && !send() {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
