package buildenv

import (
	"path/filepath"
	"strings"

	"github.com/gomlx/rocmbuild/internal/fsutil"
)

// TorchDirScript is the Python snippet that prints the install directory of the torch package.
const TorchDirScript = "import os, torch; print(os.path.dirname(os.path.abspath(torch.__file__)))"

// CMakeConfig holds the paths the native (CMake) build of vLLM needs to find Torch and ROCm.
type CMakeConfig struct {
	// TorchDir is the install directory of the torch Python package.
	TorchDir string

	// TorchCMakeDir is exported as Torch_DIR: the directory holding TorchConfig.cmake, or TorchDir as a fallback.
	TorchCMakeDir string

	// Fallback is true if TorchCMakeDir fell back to TorchDir.
	Fallback bool

	// ROCmPath is the ROCm installation root.
	ROCmPath string
}

// NewCMakeConfig derives the CMake configuration from the torch install directory: Torch_DIR is
// <torchDir>/share/cmake/Torch if it exists, torchDir otherwise.
func NewCMakeConfig(torchDir, rocmPath string) CMakeConfig {
	cfg := CMakeConfig{TorchDir: torchDir, ROCmPath: rocmPath}
	shareDir := filepath.Join(torchDir, "share", "cmake", "Torch")
	if fsutil.IsDir(shareDir) {
		cfg.TorchCMakeDir = shareDir
	} else {
		cfg.TorchCMakeDir = torchDir
		cfg.Fallback = true
	}
	return cfg
}

// PrefixPaths returns the CMake search paths: torch first, then the ROCm toolchain package directories.
func (c CMakeConfig) PrefixPaths() []string {
	rocm := c.ROCmPath
	return []string{
		c.TorchDir,
		rocm,
		rocm + "/lib/cmake",
		rocm + "/lib/cmake/hip",
		rocm + "/lib/cmake/hsa-runtime64",
		rocm + "/lib/cmake/amd_comgr",
		rocm + "/hip/share/cmake",
	}
}

// PrefixPath returns PrefixPaths joined by ":", the format of CMAKE_PREFIX_PATH.
func (c CMakeConfig) PrefixPath() string {
	return strings.Join(c.PrefixPaths(), ":")
}

// Args returns the value of CMAKE_ARGS.
func (c CMakeConfig) Args() string {
	return "-DTorch_DIR=" + c.TorchCMakeDir + " -DCMAKE_PREFIX_PATH=" + c.PrefixPath()
}

// Export sets Torch_DIR, CMAKE_PREFIX_PATH, CMAKE_ARGS, ROCM_PATH and HIP_PATH in env.
func (c CMakeConfig) Export(env *Env) *Env {
	return env.
		Set("Torch_DIR", c.TorchCMakeDir).
		Set("CMAKE_PREFIX_PATH", c.PrefixPath()).
		Set("CMAKE_ARGS", c.Args()).
		Set("ROCM_PATH", c.ROCmPath).
		Set("HIP_PATH", c.ROCmPath)
}
