package launch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rand/hsml-launch/internal/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helperEnv      = "HSML_LAUNCH_TEST_HELPER"
	helperExitEnv  = "HSML_LAUNCH_TEST_EXIT"
	helperSleepEnv = "HSML_LAUNCH_TEST_SLEEP"
	helperMarker   = "helper-report:"
)

// helperReport is what the fake interpreter prints about itself.
type helperReport struct {
	Args           []string `json:"args"`
	GPUID          string   `json:"gpu_id"`
	GPUIDSet       bool     `json:"gpu_id_set"`
	CUDAVisible    string   `json:"cuda_visible_devices"`
	CUDAVisibleSet bool     `json:"cuda_visible_devices_set"`
	Dir            string   `json:"dir"`
	Extra          string   `json:"extra"`
}

// TestMain lets the test binary stand in for the Python interpreter.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		runHelper()
		return
	}
	os.Exit(m.Run())
}

func runHelper() {
	gpu, gpuSet := os.LookupEnv(EnvGPUID)
	cuda, cudaSet := os.LookupEnv(EnvCUDAVisibleDevices)
	dir, _ := os.Getwd()
	report := helperReport{
		Args:           os.Args[1:],
		GPUID:          gpu,
		GPUIDSet:       gpuSet,
		CUDAVisible:    cuda,
		CUDAVisibleSet: cudaSet,
		Dir:            dir,
		Extra:          os.Getenv("HSML_EXTRA"),
	}
	data, _ := json.Marshal(report)
	fmt.Printf("%s%s\n", helperMarker, data)

	if d, err := time.ParseDuration(os.Getenv(helperSleepEnv)); err == nil {
		time.Sleep(d)
	}

	code, _ := strconv.Atoi(os.Getenv(helperExitEnv))
	os.Exit(code)
}

func newHelperLauncher(t *testing.T, stdout *bytes.Buffer, env ...string) *Launcher {
	t.Helper()
	base := append([]string{helperEnv + "=1"}, env...)
	l, err := New(Options{
		Python:  os.Args[0],
		Args:    experiment.Default().Args(),
		WorkDir: t.TempDir(),
		Env:     base,
		Stdin:   strings.NewReader(""),
		Stdout:  stdout,
		Stderr:  &bytes.Buffer{},
	})
	require.NoError(t, err)
	return l
}

func parseReport(t *testing.T, out string) helperReport {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, helperMarker); ok {
			var r helperReport
			require.NoError(t, json.Unmarshal([]byte(rest), &r))
			return r
		}
	}
	t.Fatalf("no helper report in output: %q", out)
	return helperReport{}
}

func TestLauncher_Command(t *testing.T) {
	l, err := New(Options{
		Python:  "python",
		Args:    []string{"--seed", "3"},
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"python", "-m", "experiments.hsml", "--seed", "3"}, l.Command())
}

func TestLauncher_Run(t *testing.T) {
	testCases := []struct {
		name  string
		gpuID string
	}{
		{name: "single device", gpuID: "0"},
		{name: "device list is not split", gpuID: "0,1"},
		{name: "no argument forwards empty", gpuID: ""},
		{name: "not validated", gpuID: "gpu-a"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout bytes.Buffer
			l := newHelperLauncher(t, &stdout)

			result, err := l.Run(context.Background(), tc.gpuID)
			require.NoError(t, err)
			assert.Equal(t, 0, result.ExitCode)
			assert.Equal(t, tc.gpuID, result.GPUID)
			assert.Equal(t, result.EndedAt.Sub(result.StartedAt).Milliseconds(), result.Usage.WallTimeMS)
			assert.GreaterOrEqual(t, result.Usage.TotalCPUTimeMS(), int64(0))

			out := stdout.String()
			assert.True(t, strings.HasPrefix(out, "shell: GPU_ID "+tc.gpuID+"\n"), "echo line missing: %q", out)

			report := parseReport(t, out)
			assert.True(t, report.GPUIDSet)
			assert.True(t, report.CUDAVisibleSet)
			assert.Equal(t, tc.gpuID, report.GPUID)
			assert.Equal(t, tc.gpuID, report.CUDAVisible)

			wantArgs := append([]string{"-m", "experiments.hsml"}, experiment.Default().Args()...)
			assert.Equal(t, wantArgs, report.Args)
		})
	}
}

func TestLauncher_RunOverridesInheritedDevices(t *testing.T) {
	var stdout bytes.Buffer
	l := newHelperLauncher(t, &stdout, "CUDA_VISIBLE_DEVICES=3", "GPU_ID=3")

	_, err := l.Run(context.Background(), "1")
	require.NoError(t, err)

	report := parseReport(t, stdout.String())
	assert.Equal(t, "1", report.GPUID)
	assert.Equal(t, "1", report.CUDAVisible)
}

func TestLauncher_RunPropagatesExitCode(t *testing.T) {
	for _, code := range []int{1, 2, 42} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			var stdout bytes.Buffer
			l := newHelperLauncher(t, &stdout, helperExitEnv+"="+strconv.Itoa(code))

			result, err := l.Run(context.Background(), "0")
			require.NoError(t, err)
			assert.Equal(t, code, result.ExitCode)
			assert.False(t, result.EndedAt.Before(result.StartedAt))
		})
	}
}

func TestLauncher_RunWorkDirAndExtraEnv(t *testing.T) {
	var stdout bytes.Buffer
	dir := t.TempDir()
	l, err := New(Options{
		Python:   os.Args[0],
		WorkDir:  dir,
		Env:      []string{helperEnv + "=1", "HSML_EXTRA=base"},
		ExtraEnv: []string{"HSML_EXTRA=dotenv", "GPU_ID=9"},
		Stdin:    strings.NewReader(""),
		Stdout:   &stdout,
		Stderr:   &bytes.Buffer{},
	})
	require.NoError(t, err)

	_, err = l.Run(context.Background(), "2")
	require.NoError(t, err)

	report := parseReport(t, stdout.String())
	assert.Equal(t, "dotenv", report.Extra)
	assert.Equal(t, "2", report.GPUID, "positional argument wins over .env")

	wantDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(report.Dir)
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
}

func TestLauncher_RunMissingInterpreter(t *testing.T) {
	var stdout bytes.Buffer
	l, err := New(Options{
		Python:  filepath.Join(t.TempDir(), "no-such-python"),
		WorkDir: t.TempDir(),
		Env:     []string{},
		Stdout:  &stdout,
		Stderr:  &bytes.Buffer{},
	})
	require.NoError(t, err)

	result, err := l.Run(context.Background(), "0")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, ExitNotFound, result.ExitCode)
	assert.Equal(t, "shell: GPU_ID 0\n", stdout.String())
}

func TestLauncher_RunStrict(t *testing.T) {
	var stdout bytes.Buffer
	l, err := New(Options{
		Python:  os.Args[0],
		WorkDir: t.TempDir(),
		Env:     []string{helperEnv + "=1"},
		Stdout:  &stdout,
		Strict:  true,
	})
	require.NoError(t, err)

	_, err = l.Run(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoDevice)

	_, err = l.Run(context.Background(), "0,x")
	assert.ErrorIs(t, err, ErrInvalidDevice)

	assert.Empty(t, stdout.String(), "nothing is echoed when strict validation fails")
}

func TestLauncher_RunCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("interrupt forwarding is unix only")
	}

	var stdout bytes.Buffer
	l := newHelperLauncher(t, &stdout, helperSleepEnv+"=30s")
	l.opts.StopGrace = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := l.Run(ctx, "0")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 128+int(syscall.SIGINT), result.ExitCode)
}
