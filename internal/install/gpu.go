package install

import "fmt"

// GPUType identifies the accelerator class the user selected.
type GPUType string

const (
	GPUNvidiaLegacy GPUType = "nvidia<30xx"
	GPUNvidia       GPUType = "nvidia>=30xx"
	GPUAMD          GPUType = "amd"
	GPUNone         GPUType = "none"
)

// Variant is the resolved package source for a GPU selection: which index
// to install from and any extra packages the variant needs.
type Variant struct {
	IndexKey string
	Index    string
	Extras   []string
}

// gpuPolicy is the single per-GPU branch point: index key plus the extras
// key looked up in the pin manifest. An unlisted type is rejected.
var gpuPolicy = map[GPUType]struct {
	indexKey  string
	extrasKey string
}{
	GPUNvidiaLegacy: {indexKey: "cuda", extrasKey: "cuda-legacy"},
	GPUNvidia:       {indexKey: "cuda"},
	GPUType(""):     {indexKey: "cuda"}, // unspecified defaults to current NVIDIA
	GPUAMD:          {indexKey: "rocm"},
	GPUNone:         {indexKey: "cpu"},
}

// SelectVariant maps (platform, gpu) to a package variant. macOS always
// installs the cpu-only variant regardless of the requested type.
func SelectVariant(goos string, gpu GPUType, pins Pins) (Variant, error) {
	if goos == "darwin" {
		return Variant{IndexKey: "cpu", Index: pins.Indexes["cpu"]}, nil
	}

	policy, ok := gpuPolicy[gpu]
	if !ok {
		return Variant{}, fmt.Errorf("unsupported GPU type %q", gpu)
	}

	v := Variant{IndexKey: policy.indexKey, Index: pins.Indexes[policy.indexKey]}
	if policy.extrasKey != "" {
		v.Extras = pins.Extras[policy.extrasKey]
	}
	return v, nil
}
