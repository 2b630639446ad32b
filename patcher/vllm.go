package patcher

import (
	"fmt"
	"regexp"
)

// Paths of the patched vLLM files, relative to the vLLM source root.
const (
	PlatformInitPath = "vllm/platforms/__init__.py"
	ROCmPlatformPath = "vllm/platforms/rocm.py"
	CMakeListsPath   = "CMakeLists.txt"
)

// AMDSMIMockGuard is present in rocm.py once the amdsmi mock header was inserted.
const AMDSMIMockGuard = `sys.modules["amdsmi"]`

// amdsmiMockHeader replaces the amdsmi module (AMD's GPU management library, absent on GPU-less hosts) by a mock.
const amdsmiMockHeader = `import sys
from unittest.mock import MagicMock
sys.modules["amdsmi"] = MagicMock()
`

// GetDeviceNameGuard is present in rocm.py if it defines a get_device_name method.
const GetDeviceNameGuard = "def get_device_name"

const getDeviceNameMethodFormat = `
    def get_device_name(self, device_id: int = 0) -> str:
        return "AMD-%s"
`

var (
	reIsROCm     = regexp.MustCompile(`is_rocm = .*`)
	reDeviceType = regexp.MustCompile(`device_type = .*`)
	reDeviceName = regexp.MustCompile(`device_name = .*`)
)

// PlatformInitPatch makes vllm/platforms/__init__.py always detect the ROCm platform, without calling amdsmi.
func PlatformInitPatch() FilePatch {
	return FilePatch{
		Name: "platform-init",
		Path: PlatformInitPath,
		Transforms: []Transform{
			CommentOutLines("comment out amdsmi import", "import amdsmi"),
			Regex("force is_rocm", reIsROCm, "is_rocm = True"),
			Literal("assume a device is present",
				"if len(amdsmi.amdsmi_get_processor_handles()) > 0:", "if True:"),
			Literal("drop amdsmi_init", "amdsmi.amdsmi_init()", "pass"),
			Literal("drop amdsmi_shut_down", "amdsmi.amdsmi_shut_down()", "pass"),
		},
	}
}

// ROCmPlatformPatch mocks amdsmi in vllm/platforms/rocm.py and fixes the device type and name to the given arch.
func ROCmPlatformPatch(arch string) FilePatch {
	return FilePatch{
		Name: "rocm-platform",
		Path: ROCmPlatformPath,
		Transforms: []Transform{
			PrependUnless("mock amdsmi module", AMDSMIMockGuard, amdsmiMockHeader),
			Regex("force device_type", reDeviceType, `device_type = "rocm"`),
			Regex("force device_name", reDeviceName, fmt.Sprintf(`device_name = "%s"`, arch)),
			AppendUnless("add get_device_name", GetDeviceNameGuard, fmt.Sprintf(getDeviceNameMethodFormat, arch)),
		},
	}
}

// CMakeTargetsPatch replaces the gfx12 targets in CMakeLists.txt by arch.
func CMakeTargetsPatch(arch string) FilePatch {
	return FilePatch{
		Name: "cmake-targets",
		Path: CMakeListsPath,
		Transforms: []Transform{
			Literal("retarget gfx1200;gfx1201", "gfx1200;gfx1201", arch),
		},
	}
}

// VLLMPatches returns all the patches needed to build vLLM for arch on a host without GPU.
func VLLMPatches(arch string) []FilePatch {
	return []FilePatch{
		PlatformInitPatch(),
		ROCmPlatformPatch(arch),
		CMakeTargetsPatch(arch),
	}
}
