package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"trichat/internal/llm"
	"trichat/internal/storage"
)

// DailyStats aggregates recorded dispatches for a single day.
type DailyStats struct {
	Date                string                   `json:"date"`
	TotalTurns          int                      `json:"total_turns"`
	UniqueConversations int                      `json:"unique_conversations"`
	Providers           map[string]ProviderStats `json:"providers"`
}

// ProviderStats holds per-adapter counters.
type ProviderStats struct {
	Provider       string         `json:"provider"`
	Successes      int            `json:"successes"`
	Failures       int            `json:"failures"`
	FailuresByKind map[string]int `json:"failures_by_kind"`
	TimesPrimary   int            `json:"times_primary"`
	AvgLatencyMs   float64        `json:"avg_latency_ms"`

	latencyTotal time.Duration
	latencyCount int
}

// DayBounds returns the half-open range covering day in its location.
func DayBounds(day time.Time) (start, end time.Time) {
	start = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

// ForDay loads only day's events from rec and summarises them.
func ForDay(rec storage.Recorder, day time.Time) (*DailyStats, error) {
	start, end := DayBounds(day)
	events, err := rec.LoadInteractionsBetween(start, end)
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	return AnalyzeDailyLogs(events, day), nil
}

// AnalyzeDailyLogs summarises events whose timestamp falls on targetDate.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay, endOfDay := DayBounds(targetDate)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		Providers: make(map[string]ProviderStats),
	}
	conversations := make(map[string]bool)

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		if event.UserMessage == "" {
			continue
		}
		stats.TotalTurns++
		conversations[event.ConversationID] = true

		if event.PrimaryModel != "" {
			ps := stats.provider(event.PrimaryModel)
			ps.TimesPrimary++
			stats.Providers[event.PrimaryModel] = ps
		}

		for _, o := range event.Outcomes {
			ps := stats.provider(o.Provider)
			if o.OK() {
				ps.Successes++
			} else {
				ps.Failures++
				ps.FailuresByKind[string(o.Kind)]++
			}
			if o.Latency > 0 {
				ps.latencyTotal += o.Latency
				ps.latencyCount++
			}
			stats.Providers[o.Provider] = ps
		}
	}

	for name, ps := range stats.Providers {
		if ps.latencyCount > 0 {
			ps.AvgLatencyMs = float64(ps.latencyTotal.Milliseconds()) / float64(ps.latencyCount)
		}
		stats.Providers[name] = ps
	}
	stats.UniqueConversations = len(conversations)
	return stats
}

func (ds *DailyStats) provider(name string) ProviderStats {
	ps, ok := ds.Providers[name]
	if !ok {
		ps = ProviderStats{Provider: name, FailuresByKind: make(map[string]int)}
	}
	return ps
}

// providerNames returns known providers first, then any others sorted.
func (ds *DailyStats) providerNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, p := range llm.KnownProviders {
		if _, ok := ds.Providers[p]; ok {
			names = append(names, p)
			seen[p] = true
		}
	}
	var rest []string
	for p := range ds.Providers {
		if !seen[p] {
			rest = append(rest, p)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// GenerateReportSummary renders a plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage report for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Turns: %d\n", ds.TotalTurns)
	fmt.Fprintf(&b, "- Conversations: %d\n", ds.UniqueConversations)

	if len(ds.Providers) == 0 {
		return b.String()
	}
	b.WriteString("\nProviders:\n")
	for _, name := range ds.providerNames() {
		ps := ds.Providers[name]
		fmt.Fprintf(&b, "- %s: %d ok, %d failed, primary %d times", name, ps.Successes, ps.Failures, ps.TimesPrimary)
		if ps.AvgLatencyMs > 0 {
			fmt.Fprintf(&b, ", avg %.0fms", ps.AvgLatencyMs)
		}
		if len(ps.FailuresByKind) > 0 {
			kinds := make([]string, 0, len(ps.FailuresByKind))
			for k := range ps.FailuresByKind {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			parts := make([]string, 0, len(kinds))
			for _, k := range kinds {
				parts = append(parts, fmt.Sprintf("%s=%d", k, ps.FailuresByKind[k]))
			}
			fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ToJSON serialises the stats for detailed inspection.
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
