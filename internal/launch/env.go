package launch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// EnvGPUID carries the operator-supplied device identifier.
	EnvGPUID = "GPU_ID"
	// EnvCUDAVisibleDevices restricts which devices CUDA runtimes can see.
	EnvCUDAVisibleDevices = "CUDA_VISIBLE_DEVICES"

	// DefaultPython is the interpreter used when no virtualenv is found.
	DefaultPython = "python"
)

// GPUEnv returns the assignments that select the given device for the child.
func GPUEnv(gpuID string) []string {
	return []string{
		EnvGPUID + "=" + gpuID,
		EnvCUDAVisibleDevices + "=" + gpuID,
	}
}

// MergeEnv layers KEY=VALUE assignments over base. The last assignment of a
// key wins; keys keep the position of their first appearance.
func MergeEnv(base []string, pairs ...string) []string {
	out := make([]string, 0, len(base)+len(pairs))
	index := make(map[string]int, len(base)+len(pairs))

	add := func(kv string) {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			return
		}
		if i, seen := index[key]; seen {
			out[i] = kv
			return
		}
		index[key] = len(out)
		out = append(out, kv)
	}

	for _, kv := range base {
		add(kv)
	}
	for _, kv := range pairs {
		add(kv)
	}
	return out
}

// LoadDotEnv reads <dir>/.env if present and returns its assignments sorted
// by key. A missing file is not an error.
func LoadDotEnv(dir string) ([]string, error) {
	path := filepath.Join(dir, ".env")
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+vars[k])
	}
	return pairs, nil
}

// ResolvePython picks the interpreter for the child process. An explicit
// override wins, then the nearest .venv found walking up from workDir, then
// DefaultPython from PATH.
func ResolvePython(workDir, override string) string {
	if override != "" {
		return override
	}
	if venv, err := findVenvPython(workDir); err == nil {
		return venv
	}
	return DefaultPython
}

// findVenvPython walks up from dir looking for .venv/bin/python.
func findVenvPython(dir string) (string, error) {
	start := dir
	for i := 0; i < 10; i++ { // limit depth
		candidate := filepath.Join(dir, ".venv", "bin", "python")
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return filepath.Abs(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf(".venv not found (searched from %s)", start)
}
