package builder

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/rocmbuild/buildenv"
)

const (
	// PrepareScript is vLLM's script that removes the torch pins from its requirements, so the installed torch
	// (with ROCm support) is used.
	PrepareScript = "use_existing_torch.py"

	// WheelPattern matches the wheel produced by "setup.py bdist_wheel", relative to the vLLM directory.
	WheelPattern = "dist/vllm-*.whl"

	// VerifyScript imports the installed vLLM and prints its version.
	VerifyScript = `import vllm; print("vLLM version:", vllm.__version__)`
)

// ResolveTorchDir asks the Python interpreter for the install directory of the torch package.
func ResolveTorchDir(ctx context.Context, r Runner, python string) (string, error) {
	output, err := r.Output(ctx, Command{Path: python, Args: []string{"-c", buildenv.TorchDirScript}})
	if err != nil {
		return "", errors.WithMessagef(err, "can't locate the torch package with %s", python)
	}
	torchDir := strings.TrimSpace(output)
	if torchDir == "" {
		return "", errors.Errorf("%s printed no torch directory", python)
	}
	return torchDir, nil
}

// PrepareEnv builds the environment for the vLLM build: the target hardware variables of the profile, followed by
// the Torch and ROCm paths for CMake derived from torchDir.
//
// It prints the resolved Torch_DIR and CMAKE_ARGS to out.
func PrepareEnv(p *buildenv.Profile, torchDir string, out io.Writer) *buildenv.Env {
	env := p.TargetEnv()
	cmake := buildenv.NewCMakeConfig(torchDir, p.ROCmPath)
	if cmake.Fallback {
		fmt.Fprintf(out, "Torch_DIR=%s (fallback)\n", cmake.TorchCMakeDir)
	} else {
		fmt.Fprintf(out, "Torch_DIR=%s\n", cmake.TorchCMakeDir)
	}
	fmt.Fprintf(out, "CMAKE_ARGS=%s\n", cmake.Args())
	return cmake.Export(env)
}

// Config of the vLLM build steps.
type Config struct {
	Profile *buildenv.Profile

	// Env is passed to every command.
	Env *buildenv.Env

	// SkipDeps skips the installation of the build dependencies.
	SkipDeps bool

	// DryRun doesn't require the wheel to exist when composing the install command.
	DryRun bool
}

// Steps returns the build sequence: install build dependencies, prepare the source tree (best-effort),
// build the wheel, install it without dependencies and verify the installation.
func Steps(cfg Config) []Step {
	p := cfg.Profile
	var steps []Step
	if !cfg.SkipDeps {
		steps = append(steps, Step{
			Name:   "install-deps",
			Title:  "Installing build dependencies",
			Policy: PolicyFatal,
			Action: RunCommand(Command{
				Path: p.Pip,
				Args: append([]string{"install", "--no-cache-dir"}, p.BuildDeps...),
				Env:  cfg.Env,
			}),
		})
	}
	steps = append(steps,
		Step{
			Name:   "prepare",
			Title:  "Running " + PrepareScript,
			Policy: PolicyBestEffort,
			Action: RunCommand(Command{Path: p.Python, Args: []string{PrepareScript}, Dir: p.VLLMDir, Env: cfg.Env}),
		},
		Step{
			Name:   "build-wheel",
			Title:  "Building vLLM wheel",
			Policy: PolicyFatal,
			Action: RunCommand(Command{Path: p.Python, Args: []string{"setup.py", "bdist_wheel"}, Dir: p.VLLMDir, Env: cfg.Env}),
		},
		Step{
			Name:   "install-wheel",
			Title:  "Installing vLLM",
			Policy: PolicyFatal,
			Action: installWheelAction(cfg),
		},
		Step{
			Name:   "verify",
			Title:  "Verifying vLLM installation",
			Policy: PolicyFatal,
			Action: RunCommand(Command{Path: p.Python, Args: []string{"-c", VerifyScript}, Env: cfg.Env}),
		},
	)
	return steps
}

// installWheelAction finds the wheels built in the dist directory only when run, since they don't exist before
// the build step.
func installWheelAction(cfg Config) Action {
	return func(ctx context.Context, r Runner) error {
		p := cfg.Profile
		wheels, err := FindWheels(p.VLLMDir)
		if err != nil {
			return err
		}
		if len(wheels) == 0 {
			if !cfg.DryRun {
				return errors.Errorf("no wheel matching %q found in %s", WheelPattern, p.VLLMDir)
			}
			wheels = []string{"./" + WheelPattern}
		}
		klog.V(1).Infof("Wheels to install: %v", wheels)
		args := append([]string{"install", "--no-deps"}, wheels...)
		return r.Run(ctx, Command{Path: p.Pip, Args: args, Dir: p.VLLMDir, Env: cfg.Env})
	}
}

// FindWheels returns the built vLLM wheels in vllmDir, as "./dist/<name>" paths relative to vllmDir.
func FindWheels(vllmDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(vllmDir, WheelPattern))
	if err != nil {
		return nil, errors.Wrapf(err, "bad wheel pattern %q", WheelPattern)
	}
	wheels := make([]string, len(matches))
	for ii, match := range matches {
		wheels[ii] = "./" + filepath.ToSlash(filepath.Join("dist", filepath.Base(match)))
	}
	return wheels, nil
}
