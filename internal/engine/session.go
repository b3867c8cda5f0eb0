// Package engine drives the docking pipeline: a checkpointed walk of
// the (reference × target) and (ligand × pose × target) task spaces,
// one external scoring invocation in flight at a time. Durability
// comes from checkpointing plus idempotent skip-checks, not locking.
package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"dockflow/internal/catalog"
	"dockflow/internal/checkpoint"
	"dockflow/internal/config"
	"dockflow/internal/layout"
	"dockflow/internal/ledger"
	"dockflow/internal/naming"
	"dockflow/internal/rank"
)

// Session is the explicit state object threaded through every
// component. Nothing in the pipeline mutates ambient globals.
type Session struct {
	ID         string
	Layout     layout.Layout
	Config     *config.Config
	Catalog    *catalog.Catalog
	Checkpoint *checkpoint.Checkpoint
	Ledger     ledger.ScoreLedger
	DB         *sql.DB // optional score mirror
	Log        *zap.Logger
	Display    *Display
	Debug      bool

	// Interrupted is set when the run stopped on cancellation rather
	// than completion. An interrupted run is not an error.
	Interrupted bool
}

// NewRunID generates the session identifier recorded in the run log.
func NewRunID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		// Entropy exhaustion never happens with crypto/rand; fall back
		// to a timestamp-only ID rather than failing the run.
		return ulid.Make().String()
	}
	return id.String()
}

// Run executes both phases from the checkpointed position, then
// derives the rankings. Cancelling ctx stops after the in-flight task
// is killed; the checkpoint and failure ledger are already on disk.
func (s *Session) Run(ctx context.Context) error {
	s.Log.Info("run starting",
		zap.String("run_id", s.ID),
		zap.Int("targets", len(s.Catalog.Targets)),
		zap.Int("candidates", len(s.Catalog.Candidates)),
		zap.Int("references", len(s.Catalog.References)))

	if err := s.referencePhase(ctx); err != nil {
		return s.stop(err)
	}
	if err := s.mainPhase(ctx); err != nil {
		return s.stop(err)
	}

	if err := s.finalize(); err != nil {
		return err
	}
	s.Log.Info("run complete", zap.String("run_id", s.ID))
	return nil
}

// stop separates cooperative cancellation from real failures.
func (s *Session) stop(err error) error {
	if stderrors.Is(err, context.Canceled) {
		s.Interrupted = true
		s.Log.Info("run interrupted; checkpoint persisted", zap.String("run_id", s.ID))
		return nil
	}
	return err
}

// referencePhase scores every reference ligand against every target:
// references outer, targets inner.
func (s *Session) referencePhase(ctx context.Context) error {
	refs := s.Catalog.References
	targets := s.Catalog.Targets
	total := len(refs) * len(targets)

	for s.Checkpoint.Get(checkpoint.ReferenceLigand) < len(refs) {
		i := s.Checkpoint.Get(checkpoint.ReferenceLigand)
		ref := refs[i]

		refPath, err := s.referenceInput(ref)
		if err != nil {
			return err
		}

		for s.Checkpoint.Get(checkpoint.ReferenceTarget) < len(targets) {
			if err := ctx.Err(); err != nil {
				return err
			}
			j := s.Checkpoint.Get(checkpoint.ReferenceTarget)
			tgt := targets[j]

			task := naming.Task{Pose: naming.Pose{Ligand: ref.Name}, Target: tgt.Name}
			done, err := s.Ledger.Has(tgt.Name, task.Pose.String())
			if err != nil {
				return err
			}
			if done {
				s.Log.Debug("skipping completed task", zap.String("task", task.String()))
			} else {
				s.Display.StartTask(TaskInfo{
					Phase:       "reference",
					TaskNumber:  i*len(targets) + j + 1,
					TotalTasks:  total,
					LigandIndex: i,
					TotalLig:    len(refs),
					TargetIndex: j,
					TotalTgt:    len(targets),
					LigandName:  ref.Name,
					TargetName:  tgt.Name,
				})
				if err := s.executeTask(ctx, refPath, task, tgt.Path, false); err != nil {
					return err
				}
			}

			s.Checkpoint.Advance(checkpoint.ReferenceTarget)
			if err := s.Checkpoint.Save(); err != nil {
				return err
			}
		}

		s.Checkpoint.Advance(checkpoint.ReferenceLigand)
		if err := s.Checkpoint.Save(); err != nil {
			return err
		}
	}
	return nil
}

// mainPhase scores every pose of every candidate ligand against every
// target: ligands outer, poses middle, targets inner.
func (s *Session) mainPhase(ctx context.Context) error {
	ligands := s.Catalog.Candidates
	targets := s.Catalog.Targets

	// Extraction is idempotent, so every pose set is materialized up
	// front; the display totals then hold across ligands with
	// differing pose counts.
	poseSets := make([][]PoseFile, len(ligands))
	prefix := make([]int, len(ligands)+1)
	for i, lig := range ligands {
		if err := ctx.Err(); err != nil {
			return err
		}
		poses, err := s.EnsurePoses(ctx, lig)
		if err != nil {
			return err
		}
		poseSets[i] = poses
		prefix[i+1] = prefix[i] + len(poses)*len(targets)
	}
	total := prefix[len(ligands)]

	for s.Checkpoint.Get(checkpoint.Ligand) < len(ligands) {
		i := s.Checkpoint.Get(checkpoint.Ligand)
		poses := poseSets[i]
		multi := len(poses) > 1

		for s.Checkpoint.Get(checkpoint.Model) < len(poses) {
			m := s.Checkpoint.Get(checkpoint.Model)
			pf := poses[m]

			for s.Checkpoint.Get(checkpoint.Target) < len(targets) {
				if err := ctx.Err(); err != nil {
					return err
				}
				j := s.Checkpoint.Get(checkpoint.Target)
				tgt := targets[j]

				task := naming.Task{Pose: pf.Pose, Target: tgt.Name}
				done, err := s.Ledger.Has(tgt.Name, task.Pose.String())
				if err != nil {
					return err
				}
				if done {
					s.Log.Debug("skipping completed task", zap.String("task", task.String()))
				} else {
					s.Display.StartTask(TaskInfo{
						Phase:       "candidate",
						TaskNumber:  prefix[i] + m*len(targets) + j + 1,
						TotalTasks:  total,
						LigandIndex: i,
						TotalLig:    len(ligands),
						ModelIndex:  m,
						TotalModels: len(poses),
						TargetIndex: j,
						TotalTgt:    len(targets),
						LigandName:  pf.Pose.String(),
						TargetName:  tgt.Name,
					})
					if err := s.executeTask(ctx, pf.Path, task, tgt.Path, multi); err != nil {
						return err
					}
				}

				s.Checkpoint.Advance(checkpoint.Target)
				if err := s.Checkpoint.Save(); err != nil {
					return err
				}
			}

			s.Checkpoint.Advance(checkpoint.Model)
			if err := s.Checkpoint.Save(); err != nil {
				return err
			}
		}

		s.Checkpoint.Advance(checkpoint.Ligand)
		if err := s.Checkpoint.Save(); err != nil {
			return err
		}
	}
	return nil
}

// finalize derives every ranking product from the completed ledgers
// and writes the per-pose summaries.
func (s *Session) finalize() error {
	if err := s.sweepTemp(); err != nil {
		return err
	}

	refNames := names(s.Catalog.References)
	targetNames := names(s.Catalog.Targets)

	ranker := &rank.Ranker{Ledger: s.Ledger, Layout: s.Layout}
	rankings, err := ranker.WriteReferenceRankings(refNames, targetNames)
	if err != nil {
		return err
	}
	if err := ranker.WriteBestOverall(targetNames, refNames); err != nil {
		return err
	}
	if err := ranker.WriteLegacyAggregate(refNames, targetNames); err != nil {
		return err
	}
	return s.writeSummaries(rankings)
}

func names(entries []catalog.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
