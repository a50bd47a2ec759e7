package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/flowwatch/flowwatch/pkg/present"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const timestampLayout = "2006-01-02 15:04:05"

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func bucketColor(b present.Bucket) string {
	switch b {
	case present.BucketSuccess:
		return ansiGreen
	case present.BucketInfo:
		return ansiBlue
	case present.BucketWarning:
		return ansiYellow
	case present.BucketError:
		return ansiRed
	default:
		return ""
	}
}

// statusCell renders a raw status token, tinted by its bucket when colorize is set.
func statusCell(status string, c present.Classification, colorize bool) string {
	if status == "" {
		status = "-"
	}
	if colorize {
		if color := bucketColor(c.Bucket); color != "" {
			return color + status + ansiReset
		}
	}
	return status
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func renderSnapshot(snap *snapshot.WorkflowSnapshot, colorize bool) string {
	var lines []string
	section := func(title, body string) {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader(title, colorize)...)
		lines = append(lines, body)
	}

	lines = append(lines, fmt.Sprintf("User:    %s", snap.UserID))
	lines = append(lines, fmt.Sprintf("Fetched: %s", formatTimestamp(snap.FetchedAt)))
	if snap.Failures.Any() {
		names := make([]string, 0, 4)
		for _, n := range snap.Failures.Names() {
			names = append(names, string(n))
		}
		warn := "Failed:  " + strings.Join(names, ", ")
		if colorize {
			warn = ansiYellow + warn + ansiReset
		}
		lines = append(lines, warn)
	}

	s := snap.Statistics
	section("Statistics", renderTable(
		[]string{"Total", "Completed", "Processing", "Pending", "Failed"},
		[][]string{{itoa(s.Total), itoa(s.Completed), itoa(s.Processing), itoa(s.Pending), itoa(s.Failed)}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
	))

	section("Active workflows", renderActive(snap.ActiveWorkflows, colorize))
	section("History", renderHistory(snap.History, colorize))
	for _, g := range snap.Communications {
		section("Trace "+g.WorkflowID, renderTrace(g, colorize))
	}
	if len(snap.Communications) == 0 {
		section("Trace", "No agent communications")
	}

	return strings.Join(lines, "\n") + "\n"
}

func renderActive(views []snapshot.WorkflowView, colorize bool) string {
	if len(views) == 0 {
		return "No active workflows"
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.WorkflowID,
			statusCell(string(v.Status), v.Classification, colorize),
			stageCell(v),
			fmt.Sprintf("%d%%", v.Progress),
			v.Elapsed,
		})
	}
	return renderTable(
		[]string{"Workflow", "Status", "Stage", "Progress", "Elapsed"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func stageCell(v snapshot.WorkflowView) string {
	if v.CurrentAgent == nil {
		return "-"
	}
	if v.StageIndex == 0 {
		return *v.CurrentAgent
	}
	return fmt.Sprintf("%d/%d %s", v.StageIndex, v.StageCount, *v.CurrentAgent)
}

func renderHistory(views []snapshot.HistoryView, colorize bool) string {
	if len(views) == 0 {
		return "No processing history"
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.Source,
			statusCell(v.Status, v.Classification, colorize),
			itoa(v.TransactionCount),
			formatTimestamp(v.Timestamp),
		})
	}
	return renderTable(
		[]string{"Source", "Status", "Transactions", "Timestamp"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func renderTrace(g present.CommunicationGroup, colorize bool) string {
	rows := make([][]string, 0, len(g.Communications))
	for _, c := range g.Communications {
		rows = append(rows, []string{
			formatTimestamp(c.Timestamp),
			c.Stage,
			c.Agent,
			statusCell(c.Status, c.Classification, colorize),
			c.Message,
		})
	}
	return renderTable([]string{"Time", "Stage", "Agent", "Status", "Message"}, rows, nil)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timestampLayout)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
