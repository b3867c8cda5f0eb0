package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"dockflow/internal/catalog"
	"dockflow/internal/errors"
	"dockflow/internal/naming"
	"dockflow/internal/pdbqt"
)

// PoseFile is one extracted pose plus its on-disk location.
type PoseFile struct {
	Pose naming.Pose
	Path string
}

var splitOutputRe = regexp.MustCompile(`_model(\d+)\.pdbqt$`)

// EnsurePoses makes the candidate ligand's poses individually
// addressable under cache/models_<ligand>. Extraction is idempotent:
// poses already on disk are returned as-is. A split that produces
// zero poses is fatal.
func (s *Session) EnsurePoses(ctx context.Context, lig catalog.Entry) ([]PoseFile, error) {
	dir := s.Layout.ModelsDir(lig.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewInternal(err)
	}

	if poses, err := s.existingPoses(lig.Name); err != nil {
		return nil, err
	} else if len(poses) > 0 {
		return poses, nil
	}

	multi, err := pdbqt.HasModels(lig.Path)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if !multi {
		// Single-pose ligands become one implicit pose.
		pose := naming.Pose{Ligand: lig.Name, Model: 1}
		dst := filepath.Join(dir, pose.FileName())
		if err := copyFile(lig.Path, dst); err != nil {
			return nil, errors.NewInternal(err)
		}
		return []PoseFile{{Pose: pose, Path: dst}}, nil
	}

	if err := s.split(ctx, lig, dir); err != nil {
		return nil, err
	}

	poses, err := s.existingPoses(lig.Name)
	if err != nil {
		return nil, err
	}
	if len(poses) == 0 {
		return nil, errors.NewExtraction(lig.Name, fmt.Errorf("splitter produced no poses"))
	}
	return poses, nil
}

// split runs the external splitter and renames its output files into
// the canonical pose naming scheme.
func (s *Session) split(ctx context.Context, lig catalog.Entry, dir string) error {
	prefix := filepath.Join(dir, lig.Name+"_model")
	cmd := exec.CommandContext(ctx, s.Config.VinaSplitPath,
		"--input", lig.Path, "--ligand", prefix)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// A killed splitter is cooperative cancellation, not a failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isExecNotFound(err) {
			return errors.NewToolMissing(s.Config.VinaSplitPath)
		}
		return errors.NewExtraction(lig.Name, fmt.Errorf("%w: %s", err, out))
	}

	// The splitter emits <prefix><k>.pdbqt; rename to <ligand>_model_<k>.pdbqt.
	matches, err := filepath.Glob(prefix + "*.pdbqt")
	if err != nil {
		return errors.NewInternal(err)
	}
	for _, m := range matches {
		sub := splitOutputRe.FindStringSubmatch(m)
		if sub == nil {
			continue
		}
		k, _ := strconv.Atoi(sub[1])
		pose := naming.Pose{Ligand: lig.Name, Model: k}
		dst := filepath.Join(dir, pose.FileName())
		if m == dst {
			continue
		}
		if err := os.Rename(m, dst); err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

// referenceInput returns the file to dock for a reference ligand.
// References are never split: a multi-model reference file is reduced
// to its first model, cached alongside the candidate poses.
func (s *Session) referenceInput(ref catalog.Entry) (string, error) {
	multi, err := pdbqt.HasModels(ref.Path)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if !multi {
		return ref.Path, nil
	}

	dir := s.Layout.ModelsDir(ref.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.NewInternal(err)
	}
	dst := filepath.Join(dir, ref.Name+".pdbqt")
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := pdbqt.ExtractFirstModel(ref.Path, dst); err != nil {
		return "", errors.NewInternal(err)
	}
	return dst, nil
}

// existingPoses lists already-extracted poses, ordered by model index.
func (s *Session) existingPoses(ligand string) ([]PoseFile, error) {
	dir := s.Layout.ModelsDir(ligand)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewInternal(err)
	}

	var poses []PoseFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pose, err := naming.ParsePose(naming.Stem(e.Name()))
		if err != nil || pose.Ligand != ligand || pose.Model == 0 {
			continue
		}
		poses = append(poses, PoseFile{Pose: pose, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(poses, func(i, j int) bool { return poses[i].Pose.Model < poses[j].Pose.Model })
	return poses, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// isExecNotFound reports whether err means the binary is absent
// rather than that it ran and failed.
func isExecNotFound(err error) bool {
	var execErr *exec.Error
	if stderrors.As(err, &execErr) {
		return stderrors.Is(execErr.Err, exec.ErrNotFound)
	}
	return false
}
