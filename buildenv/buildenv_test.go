package buildenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestEnv(t *testing.T) {
	env := NewEnv().Set("B", "1").Set("A", "2").Set("B", "3")
	require.Equal(t, []string{"B", "A"}, env.Keys())
	v, ok := env.Get("B")
	require.True(t, ok)
	require.Equal(t, "3", v)
	_, ok = env.Get("C")
	require.False(t, ok)
	require.Equal(t, "B=3 A=2", env.String())

	base := []string{"PATH=/usr/bin", "A=old", "HOME=/root"}
	require.Equal(t, []string{"PATH=/usr/bin", "HOME=/root", "B=3", "A=2"}, env.Environ(base))

	clone := env.Clone().Set("C", "4")
	require.Equal(t, 2, env.Len())
	require.Equal(t, 3, clone.Len())

	env.Merge(map[string]string{"Z": "z", "C": "c"})
	require.Equal(t, []string{"B", "A", "C", "Z"}, env.Keys())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.rocm")
	must.M(os.WriteFile(envPath, []byte("MAX_JOBS=8\nEXTRA=\"quoted value\"\n"), 0644))

	env := DefaultProfile().TargetEnv()
	require.NoError(t, LoadEnvFile(env, envPath, true))
	v, _ := env.Get("MAX_JOBS")
	require.Equal(t, "8", v)
	v, _ = env.Get("EXTRA")
	require.Equal(t, "quoted value", v)

	missing := filepath.Join(dir, "missing.env")
	require.NoError(t, LoadEnvFile(env, missing, false))
	require.Error(t, LoadEnvFile(env, missing, true))
}

func TestProfileTargetEnv(t *testing.T) {
	env := DefaultProfile().TargetEnv()
	require.Equal(t,
		"PYTORCH_ROCM_ARCH=gfx1151 HSA_OVERRIDE_GFX_VERSION=11.5.1 GPU_ARCHS=gfx1151 MAX_JOBS=32 NOGPU=true",
		env.String())
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte("arch: gfx1100\ngfx_version: 11.0.0\nmax_jobs: 8\nbuild_deps: [wheel, \"setuptools-scm>=8\"]\n"))
	require.NoError(t, err)
	assert.Equal(t, "gfx1100", p.Arch)
	assert.Equal(t, "11.0.0", p.GFXVersion)
	assert.Equal(t, 8, p.MaxJobs)
	assert.Equal(t, []string{"wheel", "setuptools-scm>=8"}, p.BuildDeps)
	assert.Equal(t, DefaultROCmPath, p.ROCmPath)
	assert.Equal(t, DefaultPython, p.Python)
	assert.Equal(t, DefaultVLLMDir, p.VLLMDir)

	// Empty profile: all defaults.
	p, err = ParseProfile(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultProfile(), p)

	_, err = ParseProfile([]byte("arch: nvidia\n"))
	require.Error(t, err)
	_, err = ParseProfile([]byte("max_jobs: -1\n"))
	require.Error(t, err)
	_, err = ParseProfile([]byte("build_deps: [\">=8\"]\n"))
	require.Error(t, err)
	_, err = ParseProfile([]byte("unknown_field: 1\n"))
	require.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile("")
	require.NoError(t, err)
	require.Equal(t, DefaultArch, p.Arch)

	path := filepath.Join(t.TempDir(), "profile.yaml")
	must.M(os.WriteFile(path, []byte("arch: gfx942\nrocm_path: /opt/rocm-6.4.0\n"), 0644))
	p, err = LoadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "gfx942", p.Arch)
	require.Equal(t, "/opt/rocm-6.4.0", p.ROCmPath)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseRequirement(t *testing.T) {
	req, err := ParseRequirement("setuptools-scm>=8")
	require.NoError(t, err)
	require.Equal(t, "setuptools-scm", req.Package)
	require.Equal(t, []VersionSpecifier{{Op: ">=", Version: "8"}}, req.Specifiers)

	req, err = ParseRequirement("numpy >=1.26, <2 ; python_version < '3.13'")
	require.NoError(t, err)
	require.Equal(t, "numpy", req.Package)
	require.Equal(t, []VersionSpecifier{{">=", "1.26"}, {"<", "2"}}, req.Specifiers)
	require.Equal(t, "python_version < '3.13'", req.Marker)
	require.Equal(t, "numpy>=1.26,<2; python_version < '3.13'", req.String())

	req, err = ParseRequirement("ray[cgraph]")
	require.NoError(t, err)
	require.Equal(t, "ray", req.Package)
	require.Equal(t, "[cgraph]", req.Extras)
	require.Empty(t, req.Specifiers)

	for _, bad := range []string{"", ">=8", "foo>=", "foo bar", "foo=>1"} {
		_, err = ParseRequirement(bad)
		require.Errorf(t, err, "requirement %q should fail", bad)
	}

	for _, dep := range DefaultBuildDeps {
		_, err = ParseRequirement(dep)
		require.NoError(t, err)
	}
}

func TestCMakeConfig(t *testing.T) {
	torchDir := t.TempDir()

	// Without share/cmake/Torch: fall back to the torch directory.
	cfg := NewCMakeConfig(torchDir, "/opt/rocm")
	require.True(t, cfg.Fallback)
	require.Equal(t, torchDir, cfg.TorchCMakeDir)

	shareDir := filepath.Join(torchDir, "share", "cmake", "Torch")
	must.M(os.MkdirAll(shareDir, 0755))
	cfg = NewCMakeConfig(torchDir, "/opt/rocm")
	require.False(t, cfg.Fallback)
	require.Equal(t, shareDir, cfg.TorchCMakeDir)

	wantPrefix := torchDir + ":/opt/rocm:/opt/rocm/lib/cmake:/opt/rocm/lib/cmake/hip:" +
		"/opt/rocm/lib/cmake/hsa-runtime64:/opt/rocm/lib/cmake/amd_comgr:/opt/rocm/hip/share/cmake"
	require.Equal(t, wantPrefix, cfg.PrefixPath())
	require.Equal(t, "-DTorch_DIR="+shareDir+" -DCMAKE_PREFIX_PATH="+wantPrefix, cfg.Args())

	env := cfg.Export(NewEnv())
	require.Equal(t, []string{"Torch_DIR", "CMAKE_PREFIX_PATH", "CMAKE_ARGS", "ROCM_PATH", "HIP_PATH"}, env.Keys())
	v, _ := env.Get("HIP_PATH")
	require.Equal(t, "/opt/rocm", v)
}
