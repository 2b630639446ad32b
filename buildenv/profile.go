package buildenv

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default values of a Profile, used for any field left empty.
const (
	DefaultArch       = "gfx1151"
	DefaultGFXVersion = "11.5.1"
	DefaultMaxJobs    = 32
	DefaultROCmPath   = "/opt/rocm"
	DefaultPython     = "python3"
	DefaultPip        = "pip"
	DefaultVLLMDir    = "/workspace/vllm"
)

// DefaultBuildDeps are the pip packages installed before building the vLLM wheel.
var DefaultBuildDeps = []string{
	"wheel",
	"build",
	"pybind11",
	"setuptools-scm>=8",
	"grpcio-tools",
	"einops",
	"pandas",
	"psutil",
}

// Profile describes the hardware target and the toolchain used to build vLLM.
type Profile struct {
	// Arch is the AMD GPU architecture (e.g.: "gfx1151").
	Arch string `yaml:"arch"`

	// GFXVersion is exported as HSA_OVERRIDE_GFX_VERSION.
	GFXVersion string `yaml:"gfx_version"`

	// MaxJobs limits the parallelism of the native build.
	MaxJobs int `yaml:"max_jobs"`

	// ROCmPath is the ROCm installation root.
	ROCmPath string `yaml:"rocm_path"`

	// Python and Pip executables.
	Python string `yaml:"python"`
	Pip    string `yaml:"pip"`

	// VLLMDir is the vLLM source checkout.
	VLLMDir string `yaml:"vllm_dir"`

	// BuildDeps are pip requirements installed before the build.
	BuildDeps []string `yaml:"build_deps"`
}

// DefaultProfile returns the profile for gfx1151 (Strix Halo) with ROCm in /opt/rocm.
func DefaultProfile() *Profile {
	p := &Profile{}
	p.FillDefaults()
	return p
}

// FillDefaults sets every empty field to its default value.
func (p *Profile) FillDefaults() {
	if p.Arch == "" {
		p.Arch = DefaultArch
	}
	if p.GFXVersion == "" {
		p.GFXVersion = DefaultGFXVersion
	}
	if p.MaxJobs == 0 {
		p.MaxJobs = DefaultMaxJobs
	}
	if p.ROCmPath == "" {
		p.ROCmPath = DefaultROCmPath
	}
	if p.Python == "" {
		p.Python = DefaultPython
	}
	if p.Pip == "" {
		p.Pip = DefaultPip
	}
	if p.VLLMDir == "" {
		p.VLLMDir = DefaultVLLMDir
	}
	if len(p.BuildDeps) == 0 {
		p.BuildDeps = append([]string(nil), DefaultBuildDeps...)
	}
}

var reArch = regexp.MustCompile(`^gfx[0-9a-f]+$`)

// Validate checks the profile values, including that every build dependency is a valid pip requirement.
func (p *Profile) Validate() error {
	if !reArch.MatchString(p.Arch) {
		return errors.Errorf("invalid GPU architecture %q, expected something like %q", p.Arch, DefaultArch)
	}
	if p.MaxJobs <= 0 {
		return errors.Errorf("max_jobs must be positive, got %d", p.MaxJobs)
	}
	for _, dep := range p.BuildDeps {
		if _, err := ParseRequirement(dep); err != nil {
			return errors.WithMessagef(err, "invalid build dependency in profile")
		}
	}
	return nil
}

// TargetEnv returns the variables describing the target hardware: architecture, version override, job limit and
// the flag telling the vLLM build there is no GPU present.
func (p *Profile) TargetEnv() *Env {
	return NewEnv().
		Set("PYTORCH_ROCM_ARCH", p.Arch).
		Set("HSA_OVERRIDE_GFX_VERSION", p.GFXVersion).
		Set("GPU_ARCHS", p.Arch).
		Set("MAX_JOBS", strconv.Itoa(p.MaxJobs)).
		Set("NOGPU", "true")
}

// ParseProfile parses a YAML profile. Unknown fields are an error, and empty fields take the default values.
func ParseProfile(data []byte) (*Profile, error) {
	p := &Profile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to parse profile")
	}
	p.FillDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadProfile reads the YAML profile in path. If path is empty, it returns DefaultProfile.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read profile %q", path)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "profile %q", path)
	}
	return p, nil
}
