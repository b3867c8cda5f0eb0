package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dockflow/internal/errors"
	"dockflow/internal/naming"
	"dockflow/internal/pdbqt"
	"dockflow/internal/scoredb"
)

// scoreTokenRe accepts an optionally signed number with at most one
// decimal point, the only shape a valid score token may have.
var scoreTokenRe = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// progressMarker is the character the scoring tool emits into its log
// as it works; each one represents 2% completion.
const progressMarker = '*'

// executeTask runs the scoring tool for one (pose, target) pair,
// extracts the score, and places the artifacts. An unparseable score
// is recorded to the failure ledger and is never fatal; a broken tool
// environment is.
func (s *Session) executeTask(ctx context.Context, poseFile string, task naming.Task, targetPath string, multiPose bool) error {
	box, err := s.resolveBox(task.Target, targetPath)
	if err != nil {
		return err
	}

	logPath := filepath.Join(s.Layout.TempDir(), task.LogName())
	outPath := filepath.Join(s.Layout.TempDir(), task.OutName())

	args := []string{
		"--receptor", targetPath,
		"--ligand", poseFile,
	}
	args = append(args, box.Args()...)
	args = append(args, "--out", outPath)
	if s.Config.CPU > 0 {
		args = append(args, "--cpu", strconv.Itoa(s.Config.CPU))
	}
	if s.Config.Exhaustiveness > 0 {
		args = append(args, "--exhaustiveness", strconv.Itoa(s.Config.Exhaustiveness))
	}
	if s.Config.EnergyRange > 0 {
		args = append(args, "--energy_range", strconv.FormatFloat(s.Config.EnergyRange, 'f', -1, 64))
	}
	if s.Config.NumModes > 0 {
		args = append(args, "--num_modes", strconv.Itoa(s.Config.NumModes))
	}

	if s.Debug {
		fmt.Fprintf(os.Stderr, "running %s %s\n", s.Config.VinaPath, strings.Join(args, " "))
	}
	s.Log.Info("starting task",
		zap.String("task", task.String()),
		zap.String("receptor", targetPath),
		zap.String("ligand", poseFile))

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if s.Config.TaskTimeoutMin > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(s.Config.TaskTimeoutMin)*time.Minute)
	}
	defer cancel()

	start := time.Now()
	if err := s.runTool(runCtx, logPath, args); err != nil {
		// Cooperative cancellation: the child was killed, the caller
		// flushes state and exits cleanly.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return errors.NewToolFailed(s.Config.VinaPath,
				fmt.Sprintf("task %s exceeded %d minute timeout", task, s.Config.TaskTimeoutMin))
		}
		return err
	}

	if _, err := os.Stat(logPath); err != nil {
		// The invocation environment is broken; nothing downstream can work.
		return errors.NewToolFailed(s.Config.VinaPath, fmt.Sprintf("log file missing after exit: %s", logPath))
	}

	name := task.Pose.String()
	score, ok, err := parseScore(logPath)
	if err != nil {
		return err
	}
	if !ok {
		perr := errors.NewScoreParse(name, task.Target, logPath)
		s.Log.Warn("score extraction failed",
			zap.String("task", task.String()),
			zap.Error(perr))
		if err := s.recordFailure(name, task.Target); err != nil {
			return err
		}
	} else {
		if err := s.Ledger.Append(task.Target, name, score); err != nil {
			return err
		}
		if s.DB != nil {
			if err := scoredb.Upsert(s.DB, scoredb.Record{
				Target: task.Target, Name: name, Score: score,
			}, time.Now().Unix()); err != nil {
				return errors.NewInternal(err)
			}
		}
		s.Log.Info("task scored",
			zap.String("task", task.String()),
			zap.Float64("score", score),
			zap.Duration("elapsed", time.Since(start)))
	}

	if err := s.placeTask(task, multiPose); err != nil {
		return err
	}

	s.Display.FinishTask(time.Since(start))
	return nil
}

// runTool starts the scoring tool with its output redirected to
// logPath and polls the log for the advisory progress estimate until
// the process exits. Cancelling ctx kills the child process.
func (s *Session) runTool(ctx context.Context, logPath string, args []string) error {
	logFile, err := os.Create(logPath)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, s.Config.VinaPath, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		if isExecNotFound(err) {
			return errors.NewToolMissing(s.Config.VinaPath)
		}
		return errors.NewToolFailed(s.Config.VinaPath, err.Error())
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	interval := time.Duration(s.Config.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil && ctx.Err() == nil {
				// A nonzero exit is not fatal by itself: the log decides.
				s.Log.Warn("tool exited with error", zap.Error(err))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Display.TaskProgress(100)
			return nil
		case <-ticker.C:
			s.Display.TaskProgress(logProgress(logPath))
		}
	}
}

// logProgress derives the advisory 0-100% estimate by counting
// progress markers in the log.
func logProgress(logPath string) int {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return 0
	}
	count := 0
	for _, b := range data {
		if b == progressMarker {
			count++
		}
	}
	percent := count * 2
	if percent > 100 {
		percent = 100
	}
	return percent
}

// parseScore extracts the score token from the first ranked result
// line of the log. ok is false when no valid token is present.
func parseScore(logPath string) (float64, bool, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return 0, false, errors.NewInternal(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "   1 ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !scoreTokenRe.MatchString(fields[1]) {
			return 0, false, nil
		}
		score, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, false, nil
		}
		return score, true, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, false, errors.NewInternal(err)
	}
	return 0, false, nil
}

// resolveBox uses the per-target override when it is complete,
// otherwise derives the box from the target's atom centroid.
func (s *Session) resolveBox(target, targetPath string) (pdbqt.Box, error) {
	box, ok, err := pdbqt.LoadBoxConfig(s.Layout.TargetConfig(target))
	if err != nil {
		return pdbqt.Box{}, errors.NewInternal(err)
	}
	if ok {
		return box, nil
	}
	box, err = pdbqt.ComputeBox(targetPath, s.Config.DefaultBoxSize)
	if err != nil {
		return pdbqt.Box{}, errors.NewInternal(err)
	}
	return box, nil
}

// recordFailure appends a (name, target) pair to the failure ledger,
// exactly once per pair.
func (s *Session) recordFailure(name, target string) error {
	path := s.Layout.FailedAttempts()
	line := fmt.Sprintf("%s %s", name, target)

	if data, err := os.ReadFile(path); err == nil {
		for _, existing := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(existing) == line {
				return nil
			}
		}
	} else if !os.IsNotExist(err) {
		return errors.NewInternal(err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, line); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
