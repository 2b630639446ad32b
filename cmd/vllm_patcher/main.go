// vllm_patcher patches a vLLM source tree so it can be built for AMD ROCm on a machine without the GPU:
// the amdsmi module is mocked, ROCm platform detection always succeeds and the CMake GPU targets are set to
// the target architecture.
//
// It is safe to run more than once: already patched files are left untouched. Missing files are skipped with
// a warning.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"github.com/gomlx/rocmbuild/buildenv"
	"github.com/gomlx/rocmbuild/internal/fsutil"
	"github.com/gomlx/rocmbuild/patcher"
)

const vllmSrcEnvVar = "VLLM_SRC"

var (
	flagVLLM = flag.String("vllm", "",
		"vLLM source directory. If empty uses $"+vllmSrcEnvVar+", or the current directory.")
	flagArch = flag.String("arch", "",
		"Target GPU architecture. If empty uses the profile's arch (default "+buildenv.DefaultArch+").")
	flagProfile = flag.String("profile", "", "YAML build profile, see vllm_builder.")
	flagDryRun  = flag.Bool("dry_run", false, "Print the changes instead of writing them.")
	flagBackup  = flag.Bool("backup", false, "Keep a copy of each patched file, with a \"~\" suffix.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `vllm_patcher patches the vLLM source tree for a GPU-less ROCm build. Files are modified in place.

Usage:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	profilePath, err := fsutil.ReplaceTildeInDir(*flagProfile)
	if err != nil {
		klog.Fatalf("Error: %+v", err)
	}
	profile, err := buildenv.LoadProfile(profilePath)
	if err != nil {
		klog.Fatalf("Error: %+v", err)
	}
	if *flagArch != "" {
		profile.Arch = *flagArch
		if err := profile.Validate(); err != nil {
			klog.Fatalf("Error: %+v", err)
		}
	}

	root := *flagVLLM
	if root == "" {
		root = os.Getenv(vllmSrcEnvVar)
	}
	if root == "" {
		root = "."
	}
	if root, err = fsutil.ReplaceTildeInDir(root); err != nil {
		klog.Fatalf("Error: %+v", err)
	}

	separator := strings.Repeat("=", 60)
	fmt.Println("Patching vLLM for GPU-less build...")
	fmt.Println(separator)
	results, err := patcher.Apply(patcher.Options{
		Root:   root,
		DryRun: *flagDryRun,
		Backup: *flagBackup,
	}, patcher.VLLMPatches(profile.Arch))
	fmt.Println(separator)
	if err != nil {
		klog.Fatalf("Error: %+v", err)
	}

	counts := make(map[patcher.Outcome]int)
	for _, result := range results {
		counts[result.Outcome]++
	}
	fmt.Printf("Successfully patched vLLM for %s! (%d patched, %d already patched, %d skipped)\n", profile.Arch,
		counts[patcher.OutcomePatched], counts[patcher.OutcomeUnchanged], counts[patcher.OutcomeSkipped])
}
