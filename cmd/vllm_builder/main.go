// vllm_builder builds and installs vLLM for an AMD ROCm GPU on a machine that may not have the GPU (or amdsmi)
// present.
//
// It sets up the environment for the target architecture (gfx1151 by default), installs the build dependencies,
// runs vLLM's use_existing_torch.py (failures are tolerated), builds the wheel, installs it without its
// dependencies and checks that vLLM can be imported. Any other failure aborts the build, and the exit code of the
// failed command is returned.
//
// Run vllm_patcher on the vLLM source tree first.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/rocmbuild/buildenv"
	"github.com/gomlx/rocmbuild/builder"
	"github.com/gomlx/rocmbuild/internal/fsutil"
)

// vllmSrcEnvVar sets the default vLLM source directory.
const vllmSrcEnvVar = "VLLM_SRC"

// defaultEnvFile is read from the vLLM directory, if present, when --env_file is not set.
const defaultEnvFile = ".env.rocm"

var (
	flagProfile = flag.String("profile", "",
		"YAML build profile with the target arch, toolchain paths and build dependencies. "+
			"If empty, builds for gfx1151 with ROCm in /opt/rocm.")
	flagVLLM = flag.String("vllm", "",
		fmt.Sprintf("vLLM source directory. If empty uses $%s, or the profile's vllm_dir (default %s).",
			vllmSrcEnvVar, buildenv.DefaultVLLMDir))
	flagEnvFile = flag.String("env_file", "",
		"File with extra environment variables (KEY=value lines) for the build, overriding the ones set by the "+
			"profile. If empty, "+defaultEnvFile+" in the vLLM directory is used if it exists.")
	flagTorchDir = flag.String("torch_dir", "",
		"Install directory of the torch package. If empty it's found by importing torch with the profile's python.")
	flagDryRun   = flag.Bool("dry_run", false, "Print the commands instead of running them.")
	flagSkipDeps = flag.Bool("skip_deps", false, "Don't install the build dependencies.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `vllm_builder builds and installs vLLM for AMD ROCm, on hosts without a GPU.

It should be run after vllm_patcher, and requires a Python environment with a ROCm build of torch installed.

Usage:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	err := run(context.Background())
	if err != nil {
		klog.Errorf("Error: %+v", err)
		klog.Flush()
		os.Exit(builder.ExitCode(err))
	}
	fmt.Println("\nvLLM build and installation complete!")
}

func run(ctx context.Context) error {
	profilePath, err := fsutil.ReplaceTildeInDir(*flagProfile)
	if err != nil {
		return err
	}
	profile, err := buildenv.LoadProfile(profilePath)
	if err != nil {
		return err
	}
	vllmDir := *flagVLLM
	if vllmDir == "" {
		vllmDir = os.Getenv(vllmSrcEnvVar)
	}
	if vllmDir != "" {
		profile.VLLMDir = vllmDir
	}
	if profile.VLLMDir, err = fsutil.ReplaceTildeInDir(profile.VLLMDir); err != nil {
		return err
	}
	if !fsutil.IsDir(profile.VLLMDir) && !*flagDryRun {
		return errors.Errorf("vLLM source directory %q not found, set it with --vllm or $%s", profile.VLLMDir, vllmSrcEnvVar)
	}
	fmt.Printf("Building vLLM in %s for %s (HSA_OVERRIDE_GFX_VERSION=%s, MAX_JOBS=%d)\n",
		profile.VLLMDir, profile.Arch, profile.GFXVersion, profile.MaxJobs)

	torchDir := *flagTorchDir
	if torchDir == "" {
		torchDir, err = builder.ResolveTorchDir(ctx, builder.NewExecRunner(), profile.Python)
		if err != nil {
			return err
		}
	}
	if torchDir, err = fsutil.ReplaceTildeInDir(torchDir); err != nil {
		return err
	}
	env := builder.PrepareEnv(profile, torchDir, os.Stdout)

	envFile, required := *flagEnvFile, true
	if envFile == "" {
		envFile, required = filepath.Join(profile.VLLMDir, defaultEnvFile), false
	}
	if envFile, err = fsutil.ReplaceTildeInDir(envFile); err != nil {
		return err
	}
	if err = buildenv.LoadEnvFile(env, envFile, required); err != nil {
		return err
	}
	klog.V(1).Infof("Build environment: %s", env)

	var runner builder.Runner = builder.NewExecRunner()
	if *flagDryRun {
		runner = &builder.DryRunner{Out: os.Stdout}
	}
	pipeline := &builder.Pipeline{
		Runner: runner,
		Steps: builder.Steps(builder.Config{
			Profile:  profile,
			Env:      env,
			SkipDeps: *flagSkipDeps,
			DryRun:   *flagDryRun,
		}),
	}
	return pipeline.Run(ctx)
}
