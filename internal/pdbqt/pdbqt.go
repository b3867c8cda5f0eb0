// Package pdbqt reads the small subset of the PDBQT format the
// pipeline needs: atom coordinates for docking-box derivation and
// MODEL records for multi-pose handling.
package pdbqt

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Box is the spatial search region handed to the scoring tool.
type Box struct {
	CenterX, CenterY, CenterZ float64
	SizeX, SizeY, SizeZ       float64
}

// Args renders the box as scoring-tool command-line arguments.
func (b Box) Args() []string {
	return []string{
		"--center_x", formatCoord(b.CenterX),
		"--center_y", formatCoord(b.CenterY),
		"--center_z", formatCoord(b.CenterZ),
		"--size_x", formatCoord(b.SizeX),
		"--size_y", formatCoord(b.SizeY),
		"--size_z", formatCoord(b.SizeZ),
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ComputeBox derives a docking box as the centroid of the target's
// ATOM records with a fixed cubic extent. A target with no ATOM
// records gets a box centered at the origin, matching the fallback
// behavior the scoring tool tolerates.
func ComputeBox(targetPath string, size float64) (Box, error) {
	f, err := os.Open(targetPath)
	if err != nil {
		return Box{}, fmt.Errorf("failed to open target: %w", err)
	}
	defer f.Close()

	var sumX, sumY, sumZ float64
	count := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "ATOM") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 9 {
			continue
		}
		x, errX := strconv.ParseFloat(parts[6], 64)
		y, errY := strconv.ParseFloat(parts[7], 64)
		z, errZ := strconv.ParseFloat(parts[8], 64)
		if errX != nil || errY != nil || errZ != nil {
			continue
		}
		sumX += x
		sumY += y
		sumZ += z
		count++
	}
	if err := scanner.Err(); err != nil {
		return Box{}, fmt.Errorf("failed to read target: %w", err)
	}

	box := Box{SizeX: size, SizeY: size, SizeZ: size}
	if count > 0 {
		box.CenterX = sumX / float64(count)
		box.CenterY = sumY / float64(count)
		box.CenterZ = sumZ / float64(count)
	}
	return box, nil
}

// LoadBoxConfig reads a per-target override file of "key = value"
// lines. It returns ok=false when the file does not exist or any of
// the six fields is missing, in which case the caller falls back to
// ComputeBox.
func LoadBoxConfig(path string) (Box, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Box{}, false, nil
		}
		return Box{}, false, err
	}
	defer f.Close()

	fields := map[string]float64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		fields[strings.TrimSpace(key)] = v
	}
	if err := scanner.Err(); err != nil {
		return Box{}, false, err
	}

	required := []string{"center_x", "center_y", "center_z", "size_x", "size_y", "size_z"}
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			return Box{}, false, nil
		}
	}

	return Box{
		CenterX: fields["center_x"],
		CenterY: fields["center_y"],
		CenterZ: fields["center_z"],
		SizeX:   fields["size_x"],
		SizeY:   fields["size_y"],
		SizeZ:   fields["size_z"],
	}, true, nil
}

// HasModels reports whether a ligand file contains MODEL records,
// i.e. holds more than one pose.
func HasModels(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), "MODEL") {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// ExtractFirstModel writes only the first MODEL block of src to dst.
// Files without MODEL records are copied whole.
func ExtractFirstModel(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	content := string(data)
	if !strings.Contains(content, "MODEL") {
		return os.WriteFile(dst, data, 0644)
	}

	var out strings.Builder
	inFirst := false
	for _, line := range strings.SplitAfter(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "MODEL 1") {
			inFirst = true
		}
		if inFirst {
			out.WriteString(line)
		}
		if inFirst && trimmed == "ENDMDL" {
			break
		}
	}
	return os.WriteFile(dst, []byte(out.String()), 0644)
}
