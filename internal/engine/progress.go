package engine

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Display renders the terminal progress view. It is advisory only:
// nothing in the pipeline's correctness depends on it, and in debug
// mode it degrades to plain line output so tool parameters stay
// readable.
type Display struct {
	Out   io.Writer
	Width int
	Plain bool // no ANSI clearing/cursor movement (debug mode)

	// durations of the last completed tasks, for the ETA estimate
	durations []time.Duration
}

const etaWindow = 10

// NewDisplay returns a display writing to out. Plain disables
// terminal clearing.
func NewDisplay(out io.Writer, plain bool) *Display {
	return &Display{Out: out, Width: 80, Plain: plain}
}

// TaskInfo describes the unit of work about to run.
type TaskInfo struct {
	Phase       string // "reference" or "candidate"
	TaskNumber  int
	TotalTasks  int
	LigandIndex int
	TotalLig    int
	ModelIndex  int
	TotalModels int
	TargetIndex int
	TotalTgt    int
	LigandName  string
	TargetName  string
}

// StartTask redraws the per-loop progress bars for the next task.
func (d *Display) StartTask(info TaskInfo) {
	if d == nil {
		return
	}
	if d.Plain {
		fmt.Fprintf(d.Out, "[%s %d/%d] %s vs %s\n",
			info.Phase, info.TaskNumber, info.TotalTasks, info.LigandName, info.TargetName)
		return
	}

	fmt.Fprint(d.Out, "\033[H\033[J") // clear terminal
	fmt.Fprintln(d.Out, "========================================")
	fmt.Fprintln(d.Out, "         Ligand-Target Docking          ")
	fmt.Fprintln(d.Out, "========================================")
	fmt.Fprintln(d.Out)
	fmt.Fprintf(d.Out, "Ligand file %d/%d\n", info.LigandIndex+1, info.TotalLig)
	d.bar(info.LigandIndex+1, info.TotalLig)
	if info.TotalModels > 0 {
		fmt.Fprintf(d.Out, "Ligand pose %d/%d\n", info.ModelIndex+1, info.TotalModels)
		d.bar(info.ModelIndex+1, info.TotalModels)
	}
	fmt.Fprintf(d.Out, "Target %d/%d\n", info.TargetIndex+1, info.TotalTgt)
	d.bar(info.TargetIndex+1, info.TotalTgt)
	fmt.Fprintln(d.Out)
	fmt.Fprintf(d.Out, "Ligand name: %s\n", info.LigandName)
	fmt.Fprintf(d.Out, "Target name: %s\n", info.TargetName)
	fmt.Fprintln(d.Out)
	fmt.Fprintf(d.Out, "Total progress: %d/%d\n", info.TaskNumber, info.TotalTasks)
	d.bar(info.TaskNumber, info.TotalTasks)
	fmt.Fprintf(d.Out, "Estimated time to completion: %s\n", d.eta(info.TotalTasks-info.TaskNumber))
	fmt.Fprintln(d.Out, "Press CTRL+C to stop; progress is checkpointed.")
}

// TaskProgress updates the in-flight task's completion estimate.
func (d *Display) TaskProgress(percent int) {
	if d == nil || d.Plain {
		return
	}
	fmt.Fprintf(d.Out, "\rCurrent docking progress: %3d%% ", percent)
}

// FinishTask records a completed task's duration for the ETA window.
func (d *Display) FinishTask(elapsed time.Duration) {
	if d == nil {
		return
	}
	d.durations = append(d.durations, elapsed)
	if len(d.durations) > etaWindow {
		d.durations = d.durations[1:]
	}
}

// bar draws one progress bar line.
func (d *Display) bar(current, total int) {
	if total <= 0 {
		return
	}
	if current > total {
		current = total
	}
	if current < 0 {
		current = 0
	}
	length := d.Width - 30
	if length < 10 {
		length = 10
	}
	filled := current * length / total
	fmt.Fprintf(d.Out, "[%s%s] %.2f%%\n",
		strings.Repeat("#", filled),
		strings.Repeat("-", length-filled),
		float64(current)*100/float64(total))
}

// eta formats the remaining-time estimate from the sliding window of
// recent task durations.
func (d *Display) eta(remaining int) string {
	if len(d.durations) == 0 || remaining <= 0 {
		return "--:--:--"
	}
	var sum time.Duration
	for _, dur := range d.durations {
		sum += dur
	}
	avg := sum / time.Duration(len(d.durations))
	rem := avg * time.Duration(remaining)
	h := int(rem.Hours())
	m := int(rem.Minutes()) % 60
	s := int(rem.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
