//go:build windows

package winapi

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// D3D11/DXGI interface GUIDs (stable across SDK versions).
var (
	iidID3D11Texture2D        = GUID{0x6f15aaf2, 0xd208, 0x4e89, [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}
	iidIDXGIDevice            = GUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}
	iidIDXGIOutput1           = GUID{0x00cddea8, 0x939b, 0x4b83, [8]byte{0xa3, 0x40, 0xa6, 0x85, 0x22, 0x66, 0x66, 0xcc}}
	iidIDXGIResource          = GUID{0x035f3ab4, 0x482e, 0x4e50, [8]byte{0xb4, 0x1f, 0x8a, 0x7f, 0x8b, 0xd8, 0x96, 0x0b}}
)

var (
	d3d11            = windows.NewLazySystemDLL("d3d11.dll")
	procD3D11CreateDevice = d3d11.NewProc("D3D11CreateDevice")
)

// D3D11 COM vtable slots (IUnknown = 0,1,2; interface methods follow).
const (
	d3d11DeviceQueryInterface = 0
	dxgiDeviceGetAdapter      = 7
	dxgiAdapterEnumOutputs    = 7
	dxgiOutputGetDesc         = 7
	dxgiOutput1DuplicateOutput = 22
	dxgiDupGetDesc            = 7
	dxgiDupAcquireNextFrame   = 8
	dxgiDupGetFrameDirtyRects = 9
	dxgiDupReleaseFrame       = 14
	dxgiResourceQueryInterface = 0

	d3d11DeviceCreateTexture2D  = 5
	d3d11DeviceGetImmediateContext = 40
	d3d11ContextCopyResource   = 47
	d3d11ContextMap            = 14
	d3d11ContextUnmap          = 15
)

// d3dBox / texture2D desc layouts, trimmed to the fields we set.
type textureDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

const (
	dxgiFormatB8G8R8A8Unorm = 87
	d3d11UsageStaging       = 3
	d3d11CPUAccessRead      = 0x20000
)

// mappedSubresource mirrors D3D11_MAPPED_SUBRESOURCE.
type mappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

// DuplicatedOutput wraps the handful of D3D11/DXGI COM pointers the
// desktop-duplication capture path needs for its whole lifetime.
type DuplicatedOutput struct {
	Device       uintptr
	Context      uintptr
	Duplication  uintptr
	Width, Height int

	staging uintptr // lazily created, sized to match the duplication output
}

// CreateDuplicatedOutput opens a D3D11 device for adapterIndex and returns
// a desktop-duplication handle for outputIndex on it, following the
// pack's LanternOps-breeze session_capture.go DXGI-tight-loop structure:
// create device, QI to IDXGIDevice, walk to the adapter's output, QI to
// IDXGIOutput1, DuplicateOutput.
func CreateDuplicatedOutput(adapterIndex, outputIndex int) (*DuplicatedOutput, error) {
	var device, context uintptr
	// D3D11CreateDevice(nil adapter, DRIVER_TYPE_HARDWARE=1, nil, 0 flags,
	// nil feature levels, 0 count, SDK_VERSION=7, &device, nil, &context)
	hr, _, _ := procD3D11CreateDevice.Call(
		0, 1, 0, 0,
		0, 0,
		7,
		uintptr(unsafe.Pointer(&device)),
		0,
		uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 || device == 0 {
		return nil, fmt.Errorf("winapi: D3D11CreateDevice failed: 0x%08X", uint32(hr))
	}

	var dxgiDevice uintptr
	if _, err := Call(device, d3d11DeviceQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIDevice)), uintptr(unsafe.Pointer(&dxgiDevice))); err != nil {
		Release(device)
		return nil, fmt.Errorf("winapi: QueryInterface IDXGIDevice: %w", err)
	}
	defer Release(dxgiDevice)

	var adapter uintptr
	if _, err := Call(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		Release(device)
		return nil, fmt.Errorf("winapi: GetAdapter: %w", err)
	}
	defer Release(adapter)

	var output uintptr
	if _, err := Call(adapter, dxgiAdapterEnumOutputs, uintptr(outputIndex), uintptr(unsafe.Pointer(&output))); err != nil {
		Release(device)
		return nil, fmt.Errorf("winapi: EnumOutputs(%d): %w", outputIndex, err)
	}
	defer Release(output)

	var output1 uintptr
	if _, err := Call(output, d3d11DeviceQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIOutput1)), uintptr(unsafe.Pointer(&output1))); err != nil {
		Release(device)
		return nil, fmt.Errorf("winapi: QueryInterface IDXGIOutput1: %w", err)
	}
	defer Release(output1)

	var dup uintptr
	if _, err := Call(output1, dxgiOutput1DuplicateOutput, device, uintptr(unsafe.Pointer(&dup))); err != nil {
		Release(device)
		return nil, fmt.Errorf("winapi: DuplicateOutput: %w", err)
	}

	width, height, err := duplicationDimensions(dup)
	if err != nil {
		Release(dup)
		Release(device)
		return nil, err
	}

	return &DuplicatedOutput{Device: device, Context: context, Duplication: dup, Width: width, Height: height}, nil
}

// outputDuplDesc mirrors the leading fields of DXGI_OUTDUPL_DESC that we
// need (mode width/height); later fields are left unread.
type outputDuplDesc struct {
	Width, Height uint32
	Format        uint32
	_             [64]byte // remaining ModeDesc/rotation/flags fields, unused
}

func duplicationDimensions(dup uintptr) (int, int, error) {
	var desc outputDuplDesc
	// IDXGIOutputDuplication::GetDesc(&desc) returns void, not HRESULT.
	syscall.SyscallN(vtableFn(dup, dxgiDupGetDesc), dup, uintptr(unsafe.Pointer(&desc)))
	if desc.Width == 0 || desc.Height == 0 {
		return 0, 0, fmt.Errorf("winapi: GetDesc returned empty dimensions")
	}
	return int(desc.Width), int(desc.Height), nil
}

// AcquireFrame polls the duplication for the next frame with a zero
// timeout (non-blocking, per spec §4.1). ok is false on the documented
// "wait timeout" status; err is non-nil on any other failure, including
// "access lost" (DXGI_ERROR_ACCESS_LOST).
func (d *DuplicatedOutput) AcquireFrame() (resource uintptr, ok bool, err error) {
	const dxgiErrorWaitTimeout = -2005270489 // 0x887A0027 as int32
	var frameInfo [48]byte                   // DXGI_OUTDUPL_FRAME_INFO, fields unused beyond existence
	var res uintptr
	hr, _, _ := syscall.SyscallN(
		vtableFn(d.Duplication, dxgiDupAcquireNextFrame),
		d.Duplication,
		0, // TimeoutInMilliseconds = 0: non-blocking
		uintptr(unsafe.Pointer(&frameInfo)),
		uintptr(unsafe.Pointer(&res)),
	)
	switch int32(hr) {
	case 0:
		return res, true, nil
	case int32(dxgiErrorWaitTimeout):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("winapi: AcquireNextFrame: 0x%08X", uint32(hr))
	}
}

// ReleaseFrame returns the acquired frame to the duplication so the next
// AcquireFrame can proceed.
func (d *DuplicatedOutput) ReleaseFrame() {
	syscall.SyscallN(vtableFn(d.Duplication, dxgiDupReleaseFrame), d.Duplication)
}

// CopyToStaging copies resource (an IDXGIResource wrapping an
// ID3D11Texture2D) into a CPU-readable staging texture, creating the
// staging texture on first use, and returns a read-only view of its rows
// (stride, then the mapped bytes) valid until Unmap is called.
func (d *DuplicatedOutput) CopyToStaging(resource uintptr) (stride int, data []byte, unmap func(), err error) {
	var tex uintptr
	if _, err := Call(resource, dxgiResourceQueryInterface, uintptr(unsafe.Pointer(&iidID3D11Texture2D)), uintptr(unsafe.Pointer(&tex))); err != nil {
		return 0, nil, nil, fmt.Errorf("winapi: QueryInterface ID3D11Texture2D: %w", err)
	}
	defer Release(tex)

	if d.staging == 0 {
		desc := textureDesc{
			Width: uint32(d.Width), Height: uint32(d.Height),
			MipLevels: 1, ArraySize: 1,
			Format:      dxgiFormatB8G8R8A8Unorm,
			SampleCount: 1,
			Usage:       d3d11UsageStaging,
			CPUAccessFlags: d3d11CPUAccessRead,
		}
		var staging uintptr
		if _, err := Call(d.Device, d3d11DeviceCreateTexture2D, uintptr(unsafe.Pointer(&desc)), 0, uintptr(unsafe.Pointer(&staging))); err != nil {
			return 0, nil, nil, fmt.Errorf("winapi: CreateTexture2D(staging): %w", err)
		}
		d.staging = staging
	}

	syscall.SyscallN(vtableFn(d.Context, d3d11ContextCopyResource), d.Context, d.staging, tex)

	var mapped mappedSubresource
	const d3d11MapRead = 1
	if _, err := Call(d.Context, d3d11ContextMap, d.staging, 0, d3d11MapRead, 0, uintptr(unsafe.Pointer(&mapped))); err != nil {
		return 0, nil, nil, fmt.Errorf("winapi: Map(staging): %w", err)
	}

	size := int(mapped.RowPitch) * d.Height
	view := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), size)
	unmapFn := func() {
		syscall.SyscallN(vtableFn(d.Context, d3d11ContextUnmap), d.Context, d.staging, 0)
	}
	return int(mapped.RowPitch), view, unmapFn, nil
}

// Close releases every COM pointer this handle owns. Idempotent.
func (d *DuplicatedOutput) Close() {
	if d.staging != 0 {
		Release(d.staging)
		d.staging = 0
	}
	if d.Duplication != 0 {
		Release(d.Duplication)
		d.Duplication = 0
	}
	if d.Context != 0 {
		Release(d.Context)
		d.Context = 0
	}
	if d.Device != 0 {
		Release(d.Device)
		d.Device = 0
	}
}
