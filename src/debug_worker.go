package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// WatchSpec represents a topic to watch with an optional mode window
type WatchSpec struct {
	Topic  string        // Full topic path
	Window time.Duration // 0 = current value
}

// String returns a unique key for this watch spec
func (w WatchSpec) String() string {
	if w.Window == 0 {
		return w.Topic
	}
	return fmt.Sprintf("%s -w %s", w.Topic, windowLabel(w.Window))
}

// ShortName returns a short column header for this watch
func (w WatchSpec) ShortName() string {
	name := sensorName(w.Topic)
	if w.Window == 0 {
		return name
	}
	return fmt.Sprintf("%s mode %s", name, windowLabel(w.Window))
}

// GetValue extracts the value from DisplayData based on the watch spec
func (w WatchSpec) GetValue(data DisplayData) string {
	var value string
	var ok bool
	if w.Window == 0 {
		value, ok = data.GetCurrent(w.Topic)
	} else {
		value, ok = data.GetMode(w.Topic, w.Window)
	}
	if !ok {
		return "-"
	}
	return value
}

// formatValue formats a float with smart precision
func formatValue(v float64) string {
	if v >= 100 || v <= -100 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m"
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

var rlWriter = &readlineWriter{}

// DebugState manages the list of watched topics
type DebugState struct {
	windows       []time.Duration
	watches       []WatchSpec
	headerPrinted bool
	columnWidths  []int
	latestData    *DisplayData
	rl            *readline.Instance
	prevValues    map[string]string // Track previous value per watch for change highlighting
}

// NewDebugState creates a new debug state for the configured windows
func NewDebugState(windows []time.Duration) *DebugState {
	return &DebugState{
		windows:    windows,
		watches:    make([]WatchSpec, 0),
		prevValues: make(map[string]string),
	}
}

// AddWatch adds a watch and re-sorts the list
func (s *DebugState) AddWatch(spec WatchSpec) bool {
	for _, w := range s.watches {
		if w == spec {
			log.Printf("Already watching: %s", spec.String())
			return false
		}
	}

	s.watches = append(s.watches, spec)
	sort.Slice(s.watches, func(i, j int) bool {
		return s.watches[i].ShortName() < s.watches[j].ShortName()
	})
	s.headerPrinted = false
	log.Printf("Watching: %s", spec.String())
	return true
}

// RemoveWatch removes an exact match watch
func (s *DebugState) RemoveWatch(spec WatchSpec) bool {
	for i, w := range s.watches {
		if w == spec {
			s.watches = slices.Delete(s.watches, i, i+1)
			s.headerPrinted = false
			log.Printf("Unwatched: %s", spec.String())
			return true
		}
	}
	return false
}

// RemoveWatchFuzzy removes a watch by topic, either exact or single match
func (s *DebugState) RemoveWatchFuzzy(topic string) bool {
	if s.RemoveWatch(WatchSpec{Topic: topic}) {
		return true
	}

	var matches []int
	for i, w := range s.watches {
		if w.Topic == topic {
			matches = append(matches, i)
		}
	}

	switch len(matches) {
	case 1:
		removed := s.watches[matches[0]]
		s.watches = slices.Delete(s.watches, matches[0], matches[0]+1)
		s.headerPrinted = false
		log.Printf("Unwatched: %s", removed.String())
		return true
	case 0:
		log.Printf("No watch found for: %s", topic)
	default:
		log.Printf("Multiple watches for %s, use full spec to unwatch", topic)
	}
	return false
}

// RemoveAll removes all watches
func (s *DebugState) RemoveAll() {
	s.watches = s.watches[:0]
	s.headerPrinted = false
	log.Println("All watches removed")
}

// UpdateData stores the latest DisplayData for use by list command
func (s *DebugState) UpdateData(data DisplayData) {
	s.latestData = &data
}

// SetReadline sets the readline instance for proper output handling
func (s *DebugState) SetReadline(rl *readline.Instance) {
	s.rl = rl
}

// print outputs a line, handling readline prompt properly
func (s *DebugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// ListTopics prints all available topics
func (s *DebugState) ListTopics() {
	if s.latestData == nil {
		log.Println("No data received yet")
		return
	}

	topics := make([]string, 0, len(s.latestData.TopicData))
	for topic := range s.latestData.TopicData {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	s.print("Available topics (%d):", len(topics))
	for _, topic := range topics {
		var typeStr string
		switch s.latestData.TopicData[topic].(type) {
		case *FloatTopicData:
			typeStr = "[float]"
		case *StringTopicData:
			typeStr = "[string]"
		default:
			typeStr = "[?]"
		}
		s.print("  %s %s", typeStr, topic)
	}
}

// PrintHeader prints the column headers
func (s *DebugState) PrintHeader() {
	if len(s.watches) == 0 {
		return
	}

	s.columnWidths = make([]int, len(s.watches))
	parts := make([]string, 0, len(s.watches))
	for i, w := range s.watches {
		s.columnWidths[i] = len(w.ShortName())
		parts = append(parts, fmt.Sprintf("%*s", s.columnWidths[i], w.ShortName()))
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = make(map[string]string) // Reset previous values when header changes
}

// FormatRow renders the values for all watches, returning false if none changed
func (s *DebugState) FormatRow(data DisplayData) (string, bool) {
	if len(s.watches) == 0 {
		return "", false
	}

	if !s.headerPrinted {
		s.PrintHeader()
	}

	parts := make([]string, 0, len(s.watches))
	anyChanged := false
	newValues := make(map[string]string, len(s.watches))

	for i, w := range s.watches {
		value := w.GetValue(data)
		key := w.String()
		newValues[key] = value

		width := max(s.columnWidths[i], len(value))
		s.columnWidths[i] = width

		prevValue, hasPrev := s.prevValues[key]
		if !hasPrev || prevValue != value {
			anyChanged = true
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}

	s.prevValues = newValues
	return strings.Join(parts, " | "), anyChanged
}

// PrintRow prints the current values for all watches (only if changed)
func (s *DebugState) PrintRow(data DisplayData) {
	if row, changed := s.FormatRow(data); changed {
		s.print("%s", row)
	}
}

// parseWatchSpec parses watch command arguments into a WatchSpec
func parseWatchSpec(args []string, windows []time.Duration) (*WatchSpec, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: watch <topic> [-w <window>]")
	}

	spec := &WatchSpec{Topic: args[0]}

	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "-w":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("-w requires a window (%s)", windowChoices(windows))
			}
			i++
			w, err := time.ParseDuration(args[i])
			if err != nil || !slices.Contains(windows, w) {
				return nil, fmt.Errorf("-w must be one of %s", windowChoices(windows))
			}
			spec.Window = w
		default:
			return nil, fmt.Errorf("unknown option: %s", args[i])
		}
	}

	return spec, nil
}

func windowChoices(windows []time.Duration) string {
	labels := make([]string, 0, len(windows))
	for _, w := range windows {
		labels = append(labels, windowLabel(w))
	}
	return strings.Join(labels, ", ")
}

// handleDebugCommand processes a debug command
func handleDebugCommand(cmd string, state *DebugState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "watch":
		spec, err := parseWatchSpec(parts[1:], state.windows)
		if err != nil {
			log.Printf("Error: %v", err)
			return
		}
		state.AddWatch(*spec)

	case "unwatch":
		if len(parts) < 2 {
			log.Println("Usage: unwatch <topic> [-w <window>] | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.RemoveAll()
			return
		}
		spec, err := parseWatchSpec(parts[1:], state.windows)
		if err != nil {
			log.Printf("Error: %v", err)
			return
		}
		if spec.Window == 0 {
			state.RemoveWatchFuzzy(spec.Topic)
		} else if !state.RemoveWatch(*spec) {
			log.Printf("No watch found for: %s", spec.String())
		}

	case "list":
		state.ListTopics()

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  list                        - List all available topics")
		fmt.Println("  watch <topic>               - Watch current value")
		fmt.Printf("  watch <topic> -w <window>   - Watch mode over a window (%s)\n", windowChoices(state.windows))
		fmt.Println("  unwatch <topic>             - Remove watch (exact or fuzzy match)")
		fmt.Println("  unwatch <topic> -w <window> - Remove specific watch")
		fmt.Println("  unwatch --all               - Remove all watches")
		fmt.Println("  help                        - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		if line = strings.TrimSpace(line); line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for debug history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	appCache := filepath.Join(cacheDir, "modewatch")
	_ = os.MkdirAll(appCache, 0750)
	return filepath.Join(appCache, "debug_history")
}

// debugWorker provides interactive introspection of DisplayData
func debugWorker(ctx context.Context, cancel context.CancelFunc, dataChan <-chan DisplayData, windows []time.Duration) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil
		log.SetOutput(os.Stderr)
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState(windows)
	state.SetReadline(rl)

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state)
		case data := <-dataChan:
			state.UpdateData(data)
			state.PrintRow(data)
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
