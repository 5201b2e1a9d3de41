package population

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"asterion/internal/model"
	"asterion/internal/registry"
	"asterion/internal/shm"
)

const (
	ModelExt  = ".fnnm"
	genPrefix = "gen"
)

var ErrNoGenerations = errors.New("population root has no generation directories")
var ErrEmptyGeneration = errors.New("generation directory has no loadable models")

// GenerationDir returns the directory of generation n under root.
func GenerationDir(root string, n int) string {
	return filepath.Join(root, fmt.Sprintf("%s%d", genPrefix, n))
}

// LatestGeneration finds the highest genN directory under root.
func LatestGeneration(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}

	latest := -1
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), genPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), genPrefix))
		if err != nil || n < 0 {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	if latest < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoGenerations, root)
	}
	return latest, nil
}

// ModelFiles lists the generation's model files ordered by their index.
func ModelFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "model_*"+ModelExt))
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		return modelIndex(matches[i]) < modelIndex(matches[j])
	})
	return matches, nil
}

func modelIndex(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ModelExt)
	n, err := strconv.Atoi(strings.TrimPrefix(base, "model_"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

// ModelPath returns the canonical path of model i in a generation dir.
func ModelPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("model_%d%s", i, ModelExt))
}

// SegmentNames derives the instance's three segment names from its model
// file name: extension stripped, i/o/s appended.
func SegmentNames(modelPath string) (input, output, status string, err error) {
	base := strings.TrimSuffix(filepath.Base(modelPath), ModelExt)
	input, output, status = base+"i", base+"o", base+"s"
	for _, name := range []string{input, output, status} {
		if err := shm.ValidateName(name); err != nil {
			return "", "", "", fmt.Errorf("model %s yields bad segment name: %w", modelPath, err)
		}
	}
	return input, output, status, nil
}

// Load builds the instance descriptors for the newest generation under
// root. Models that fail to deserialize are skipped; the load fails only
// when nothing valid remains.
func Load(root string) (int, []registry.Instance, error) {
	gen, err := LatestGeneration(root)
	if err != nil {
		return 0, nil, err
	}
	dir := GenerationDir(root, gen)
	paths, err := ModelFiles(dir)
	if err != nil {
		return 0, nil, err
	}

	instances := make([]registry.Instance, 0, len(paths))
	for _, path := range paths {
		if _, err := model.Deserialize(path); err != nil {
			continue
		}
		input, output, status, err := SegmentNames(path)
		if err != nil {
			continue
		}
		instances = append(instances, registry.Instance{
			ID:         len(instances),
			Status:     registry.StatusInactive,
			GamePID:    -1,
			AgentPID:   -1,
			InputName:  input,
			OutputName: output,
			StatusName: status,
			ModelPath:  path,
			Generation: gen,
		})
	}
	if len(instances) == 0 {
		return 0, nil, fmt.Errorf("%w: %s", ErrEmptyGeneration, dir)
	}
	return gen, instances, nil
}

// CopyModelFile copies src to dst byte for byte, for elite carry-over.
func CopyModelFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
