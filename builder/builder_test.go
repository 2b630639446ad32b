package builder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/gomlx/rocmbuild/buildenv"
)

func init() {
	klog.InitFlags(nil)
}

// exitError simulates a child process that exited with a non-zero status.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitError) ExitCode() int { return int(e) }

// fakeRunner records the commands it's asked to run, and fails those whose command line contains a key of fail.
type fakeRunner struct {
	commands []Command
	fail     map[string]int
	output   string
}

func (r *fakeRunner) Run(_ context.Context, cmd Command) error {
	r.commands = append(r.commands, cmd)
	line := cmd.String()
	for key, code := range r.fail {
		if strings.Contains(line, key) {
			return errors.Wrapf(exitError(code), "failed to run %s", line)
		}
	}
	return nil
}

func (r *fakeRunner) Output(ctx context.Context, cmd Command) (string, error) {
	if err := r.Run(ctx, cmd); err != nil {
		return "", err
	}
	return r.output, nil
}

func (r *fakeRunner) lines() []string {
	lines := make([]string, len(r.commands))
	for ii, cmd := range r.commands {
		lines[ii] = cmd.String()
	}
	return lines
}

// testConfig returns a Config with the vLLM directory in a temporary directory holding a built wheel.
func testConfig(t *testing.T) Config {
	p := buildenv.DefaultProfile()
	p.VLLMDir = t.TempDir()
	must.M(os.MkdirAll(filepath.Join(p.VLLMDir, "dist"), 0755))
	must.M(os.WriteFile(filepath.Join(p.VLLMDir, "dist", "vllm-0.9.0+rocm-cp312-cp312-linux_x86_64.whl"), nil, 0644))
	return Config{Profile: p, Env: p.TargetEnv()}
}

func TestPipelineAllSteps(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}
	var out bytes.Buffer
	pipeline := &Pipeline{Runner: runner, Steps: Steps(cfg), Out: &out}
	require.NoError(t, pipeline.Run(context.Background()))

	require.Equal(t, []string{
		`pip install --no-cache-dir wheel build pybind11 "setuptools-scm>=8" grpcio-tools einops pandas psutil`,
		`python3 use_existing_torch.py`,
		`python3 setup.py bdist_wheel`,
		`pip install --no-deps ./dist/vllm-0.9.0+rocm-cp312-cp312-linux_x86_64.whl`,
		`python3 -c "import vllm; print(\"vLLM version:\", vllm.__version__)"`,
	}, runner.lines())

	for ii, cmd := range runner.commands {
		require.Same(t, cfg.Env, cmd.Env, "command #%d should receive the build environment", ii)
	}
	require.Equal(t, "", runner.commands[0].Dir)
	require.Equal(t, cfg.Profile.VLLMDir, runner.commands[1].Dir)
	require.Equal(t, cfg.Profile.VLLMDir, runner.commands[2].Dir)
	require.Equal(t, cfg.Profile.VLLMDir, runner.commands[3].Dir)

	require.Contains(t, out.String(), "\nInstalling build dependencies...\n")
	require.Contains(t, out.String(), "\nVerifying vLLM installation...\n")
}

func TestPipelineFatalStepHalts(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{fail: map[string]int{"bdist_wheel": 3}}
	pipeline := &Pipeline{Runner: runner, Steps: Steps(cfg), Out: &bytes.Buffer{}}
	err := pipeline.Run(context.Background())
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, "build-wheel", stepErr.Step)
	require.Equal(t, 3, ExitCode(err))

	// Nothing after the build ran.
	require.Len(t, runner.commands, 3)
	require.Contains(t, runner.lines()[2], "bdist_wheel")
}

func TestPipelineFatalDepsHalts(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{fail: map[string]int{"--no-cache-dir": 1}}
	pipeline := &Pipeline{Runner: runner, Steps: Steps(cfg), Out: &bytes.Buffer{}}
	err := pipeline.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, ExitCode(err))
	require.Len(t, runner.commands, 1)
}

func TestPipelineBestEffortContinues(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{fail: map[string]int{PrepareScript: 2}}
	pipeline := &Pipeline{Runner: runner, Steps: Steps(cfg), Out: &bytes.Buffer{}}
	require.NoError(t, pipeline.Run(context.Background()))
	require.Len(t, runner.commands, 5)
	require.Contains(t, runner.lines()[2], "bdist_wheel")
}

func TestSkipDeps(t *testing.T) {
	cfg := testConfig(t)
	cfg.SkipDeps = true
	steps := Steps(cfg)
	require.Len(t, steps, 4)
	require.Equal(t, "prepare", steps[0].Name)
}

func TestInstallWithoutWheel(t *testing.T) {
	cfg := testConfig(t)
	must.M(os.RemoveAll(filepath.Join(cfg.Profile.VLLMDir, "dist")))
	runner := &fakeRunner{}
	pipeline := &Pipeline{Runner: runner, Steps: Steps(cfg), Out: &bytes.Buffer{}}
	err := pipeline.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, ExitCode(err))
	require.Contains(t, err.Error(), "install-wheel")
	require.Len(t, runner.commands, 3)

	// In dry-run mode the pattern is used instead.
	cfg.DryRun = true
	var out bytes.Buffer
	pipeline = &Pipeline{Runner: &DryRunner{Out: &out}, Steps: Steps(cfg), Out: &out}
	require.NoError(t, pipeline.Run(context.Background()))
	require.Contains(t, out.String(), "- pip install --no-deps \"./dist/vllm-*.whl\"\n")
	require.Contains(t, out.String(), "- export NOGPU=\"true\"\n")
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(errors.New("no exit code")))
	require.Equal(t, 7, ExitCode(&StepError{Step: "x", Err: errors.Wrap(exitError(7), "wrapped")}))
}

func TestResolveTorchDir(t *testing.T) {
	runner := &fakeRunner{output: "/usr/lib/python3/site-packages/torch\n"}
	dir, err := ResolveTorchDir(context.Background(), runner, "python3")
	require.NoError(t, err)
	require.Equal(t, "/usr/lib/python3/site-packages/torch", dir)
	require.Equal(t, []string{"-c", buildenv.TorchDirScript}, runner.commands[0].Args)

	runner = &fakeRunner{output: "  \n"}
	_, err = ResolveTorchDir(context.Background(), runner, "python3")
	require.Error(t, err)

	runner = &fakeRunner{fail: map[string]int{"python3": 1}}
	_, err = ResolveTorchDir(context.Background(), runner, "python3")
	require.Error(t, err)
}

func TestPrepareEnv(t *testing.T) {
	torchDir := t.TempDir()
	var out bytes.Buffer
	env := PrepareEnv(buildenv.DefaultProfile(), torchDir, &out)
	assert.Equal(t, []string{
		"PYTORCH_ROCM_ARCH", "HSA_OVERRIDE_GFX_VERSION", "GPU_ARCHS", "MAX_JOBS", "NOGPU",
		"Torch_DIR", "CMAKE_PREFIX_PATH", "CMAKE_ARGS", "ROCM_PATH", "HIP_PATH",
	}, env.Keys())
	assert.Contains(t, out.String(), "Torch_DIR="+torchDir+" (fallback)\n")
	assert.Contains(t, out.String(), "CMAKE_ARGS=-DTorch_DIR="+torchDir+" -DCMAKE_PREFIX_PATH="+torchDir+":/opt/rocm:")

	must.M(os.MkdirAll(filepath.Join(torchDir, "share", "cmake", "Torch"), 0755))
	out.Reset()
	env = PrepareEnv(buildenv.DefaultProfile(), torchDir, &out)
	v, _ := env.Get("Torch_DIR")
	assert.Equal(t, filepath.Join(torchDir, "share", "cmake", "Torch"), v)
	assert.NotContains(t, out.String(), "fallback")
}

// TestExecRunner requires a POSIX shell.
func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	var stdout, stderr bytes.Buffer
	runner := &ExecRunner{Stdout: &stdout, Stderr: &stderr}
	ctx := context.Background()
	env := buildenv.NewEnv().Set("ROCMBUILD_TEST_VAR", "gfx1151")

	output, err := runner.Output(ctx, Command{Path: "sh", Args: []string{"-c", "echo $ROCMBUILD_TEST_VAR"}, Env: env})
	require.NoError(t, err)
	require.Equal(t, "gfx1151\n", output)

	dir := t.TempDir()
	require.NoError(t, runner.Run(ctx, Command{Path: "sh", Args: []string{"-c", "pwd"}, Dir: dir}))
	require.Contains(t, stdout.String(), filepath.Base(dir))

	err = runner.Run(ctx, Command{Path: "sh", Args: []string{"-c", "exit 5"}})
	require.Error(t, err)
	require.Equal(t, 5, ExitCode(err))

	err = runner.Run(ctx, Command{Path: "/no/such/executable"})
	require.Error(t, err)
	require.Equal(t, 1, ExitCode(err))
}
