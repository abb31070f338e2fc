package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ryansname/battery-proxy/estimator"
)

// debugField is one watchable battery state field
type debugField struct {
	Name   string
	Format func(s estimator.State) string
}

// debugFields lists the watchable fields in display order
var debugFields = []debugField{
	{"voltage", func(s estimator.State) string {
		if !s.VoltageValid {
			return "-"
		}
		return formatVolts(s.Voltage)
	}},
	{"current", func(s estimator.State) string { return formatAmps(s.Current) }},
	{"power", func(s estimator.State) string { return formatWatts(s.Power) }},
	{"temperature", func(s estimator.State) string { return formatCelsius(s.Temperature) }},
	{"soc", func(s estimator.State) string {
		if !s.VoltageValid {
			return "-"
		}
		return formatPercent(s.Soc)
	}},
	{"remaining", func(s estimator.State) string { return formatAh(s.RemainingAh) }},
	{"filtered_current", func(s estimator.State) string { return formatAmps(s.FilteredCurrent) }},
	{"filtered_voltage", func(s estimator.State) string { return formatVolts(s.FilteredVoltage) }},
	{"ttg", func(s estimator.State) string { return formatTimeToGo(s.TimeToGoSeconds) }},
	{"min_voltage", func(s estimator.State) string {
		if !s.HistoryValid {
			return "-"
		}
		return formatVolts(s.MinVoltage)
	}},
	{"max_voltage", func(s estimator.State) string {
		if !s.HistoryValid {
			return "-"
		}
		return formatVolts(s.MaxVoltage)
	}},
	{"deepest_discharge", func(s estimator.State) string {
		if !s.HistoryValid {
			return "-"
		}
		return formatPercent(s.DeepestDischargeSoc)
	}},
	{"charged", func(s estimator.State) string { return formatKWh(s.ChargedEnergyKWh) }},
	{"discharged", func(s estimator.State) string { return formatKWh(s.DischargedEnergyKWh) }},
	{"ah_drawn", func(s estimator.State) string { return formatAh(s.TotalAhDrawn) }},
	{"full_discharges", func(s estimator.State) string { return fmt.Sprint(s.FullDischarges) }},
	{"alarm_low_voltage", func(s estimator.State) string { return s.Alarms.LowVoltage.String() }},
	{"alarm_high_voltage", func(s estimator.State) string { return s.Alarms.HighVoltage.String() }},
	{"alarm_low_soc", func(s estimator.State) string { return s.Alarms.LowSoc.String() }},
	{"float", func(s estimator.State) string {
		if s.FloatCharging {
			return "on"
		}
		return "off"
	}},
	{"max_charge_voltage", func(s estimator.State) string { return formatVolts(s.MaxChargeVoltage) }},
}

// lookupDebugField finds a field by name
func lookupDebugField(name string) (debugField, bool) {
	for _, f := range debugFields {
		if f.Name == name {
			return f, true
		}
	}
	return debugField{}, false
}

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m" // Yellow for changed values
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

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// DebugState manages the list of watched fields
type DebugState struct {
	watches       []string
	headerPrinted bool
	columnWidths  []int
	latest        *estimator.State
	rl            *readline.Instance
	prevValues    map[string]string // Track previous value per watch for change highlighting
	out           func(line string)
}

// NewDebugState creates a new debug state
func NewDebugState() *DebugState {
	return &DebugState{
		prevValues: make(map[string]string),
	}
}

// AddWatch adds a field watch, keeping watches in field order
func (s *DebugState) AddWatch(name string) error {
	if _, ok := lookupDebugField(name); !ok {
		return fmt.Errorf("unknown field: %s (try 'fields')", name)
	}
	if slices.Contains(s.watches, name) {
		log.Printf("Already watching: %s", name)
		return nil
	}

	s.watches = append(s.watches, name)
	slices.SortStableFunc(s.watches, func(a, b string) int {
		return fieldIndex(a) - fieldIndex(b)
	})
	s.headerPrinted = false
	log.Printf("Watching: %s", name)
	return nil
}

// fieldIndex returns the display position of a field
func fieldIndex(name string) int {
	return slices.IndexFunc(debugFields, func(f debugField) bool { return f.Name == name })
}

// RemoveWatch removes a field watch
func (s *DebugState) RemoveWatch(name string) bool {
	i := slices.Index(s.watches, name)
	if i < 0 {
		log.Printf("No watch found for: %s", name)
		return false
	}
	s.watches = slices.Delete(s.watches, i, i+1)
	s.headerPrinted = false
	log.Printf("Unwatched: %s", name)
	return true
}

// RemoveAll removes all watches
func (s *DebugState) RemoveAll() {
	s.watches = s.watches[:0]
	s.headerPrinted = false
	log.Println("All watches removed")
}

// UpdateData stores the latest state for the show command
func (s *DebugState) UpdateData(state estimator.State) {
	s.latest = &state
}

// SetReadline sets the readline instance for proper output handling
func (s *DebugState) SetReadline(rl *readline.Instance) {
	s.rl = rl
}

// print outputs a line, handling readline prompt properly
func (s *DebugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	switch {
	case s.out != nil:
		s.out(line)
	case s.rl != nil:
		// Clean prompt, print, refresh prompt
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	default:
		fmt.Println(line)
	}
}

// ListFields prints every watchable field
func (s *DebugState) ListFields() {
	s.print("Available fields (%d):", len(debugFields))
	for _, f := range debugFields {
		s.print("  %s", f.Name)
	}
}

// Show prints every field of the latest state
func (s *DebugState) Show() {
	if s.latest == nil {
		log.Println("No data received yet")
		return
	}
	for _, f := range debugFields {
		s.print("%-20s %s", f.Name, f.Format(*s.latest))
	}
}

// PrintHeader prints the column headers
func (s *DebugState) PrintHeader() {
	if len(s.watches) == 0 {
		return
	}

	s.columnWidths = make([]int, len(s.watches))
	parts := make([]string, 0, len(s.watches))
	for i, name := range s.watches {
		s.columnWidths[i] = len(name)
		parts = append(parts, name)
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = make(map[string]string) // Reset previous values when header changes
}

// PrintRow prints the current values for all watches (only if changed)
func (s *DebugState) PrintRow(state estimator.State) {
	if len(s.watches) == 0 {
		return
	}

	if !s.headerPrinted {
		s.PrintHeader()
	}

	parts := make([]string, 0, len(s.watches))
	anyChanged := false
	newValues := make(map[string]string, len(s.watches))

	for i, name := range s.watches {
		field, _ := lookupDebugField(name)
		value := field.Format(state)
		newValues[name] = value

		width := max(s.columnWidths[i], len(value))
		s.columnWidths[i] = width

		prevValue, hasPrev := s.prevValues[name]
		if !hasPrev || prevValue != value {
			anyChanged = true
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}

	if anyChanged {
		s.print("%s", strings.Join(parts, " | "))
		s.prevValues = newValues
	}
}

// handleDebugCommand processes a debug command
func handleDebugCommand(cmd string, state *DebugState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "watch":
		if len(parts) < 2 {
			log.Println("Usage: watch <field>...")
			return
		}
		for _, name := range parts[1:] {
			if err := state.AddWatch(name); err != nil {
				log.Printf("Error: %v", err)
			}
		}

	case "unwatch":
		if len(parts) < 2 {
			log.Println("Usage: unwatch <field>... | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.RemoveAll()
			return
		}
		for _, name := range parts[1:] {
			state.RemoveWatch(name)
		}

	case "show":
		state.Show()

	case "fields":
		state.ListFields()

	case "help":
		state.print("Commands:")
		state.print("  fields              - List all watchable fields")
		state.print("  show                - Print every field of the latest state")
		state.print("  watch <field>...    - Watch fields, printing a row when they change")
		state.print("  unwatch <field>...  - Remove watches")
		state.print("  unwatch --all       - Remove all watches")
		state.print("  help                - Show this help")

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
		line = strings.TrimSpace(line)
		if line != "" {
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
	appCache := filepath.Join(cacheDir, "battery-proxy")
	_ = os.MkdirAll(appCache, 0750)
	return filepath.Join(appCache, "debug_history")
}

// debugWorker provides interactive introspection of the battery state
func debugWorker(ctx context.Context, cancel context.CancelFunc, stateChan <-chan estimator.State) {
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
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState()
	state.SetReadline(rl)

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state)
		case s := <-stateChan:
			state.UpdateData(s)
			state.PrintRow(s)
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
