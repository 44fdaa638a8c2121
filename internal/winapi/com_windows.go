//go:build windows

// Package winapi holds the raw COM/Win32 syscall plumbing shared by the
// DXGI desktop-duplication capture (internal/screen) and the WASAPI audio
// capture (internal/audio). Grounded on the pack's LanternOps-breeze
// remote-desktop audio_windows.go: GUIDs laid out as (uint32, uint16,
// uint16, [8]byte), interface methods dispatched by vtable index through
// syscall.SyscallN, and the teacher's own NewLazySystemDLL/NewProc idiom
// (src/windows.go) for the handful of plain (non-COM) Win32 calls.
package winapi

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// GUID is the in-memory layout expected everywhere a COM CLSID/IID is
// passed by pointer.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

var (
	ole32    = windows.NewLazySystemDLL("ole32.dll")
	procCoInitializeEx   = ole32.NewProc("CoInitializeEx")
	procCoUninitialize   = ole32.NewProc("CoUninitialize")
	procCoCreateInstance = ole32.NewProc("CoCreateInstance")
	procCoTaskMemFree    = ole32.NewProc("CoTaskMemFree")
)

const (
	cominitMultithreaded = 0x0
	clsctxAll            = 0x1 | 0x2 | 0x4 | 0x10
)

// CoInitialize initializes COM on the calling OS thread. Callers must have
// called runtime.LockOSThread first and keep that lock for the lifetime
// of any COM pointers obtained afterwards.
func CoInitialize() error {
	hr, _, _ := procCoInitializeEx.Call(0, cominitMultithreaded)
	if int32(hr) < 0 {
		return fmt.Errorf("winapi: CoInitializeEx failed: 0x%08X", uint32(hr))
	}
	return nil
}

// CoUninitialize tears down COM on the calling OS thread.
func CoUninitialize() {
	procCoUninitialize.Call()
}

// CoCreateInstance creates an out-of-process-free COM object of clsid,
// requesting interface iid, and returns the resulting interface pointer.
func CoCreateInstance(clsid, iid *GUID) (uintptr, error) {
	var out uintptr
	hr, _, _ := syscall.SyscallN(
		procCoCreateInstance.Addr(),
		uintptr(unsafe.Pointer(clsid)),
		0,
		uintptr(clsctxAll),
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&out)),
	)
	if int32(hr) < 0 {
		return 0, fmt.Errorf("winapi: CoCreateInstance failed: 0x%08X", uint32(hr))
	}
	return out, nil
}

// CoTaskMemFree frees memory the OS allocated on our behalf (e.g. the
// WAVEFORMATEX returned by IAudioClient::GetMixFormat).
func CoTaskMemFree(p uintptr) {
	procCoTaskMemFree.Call(p)
}

// vtableFn reads the function pointer at vtable slot index off an
// interface pointer (obj points at a vtable pointer, as every COM object
// does).
func vtableFn(obj uintptr, index int) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtbl + uintptr(index)*unsafe.Sizeof(uintptr(0))))
}

// Call invokes the COM method at vtable slot index on obj with args
// appended after the implicit `this` pointer, returning (HRESULT as
// uintptr, error) — error is non-nil iff the HRESULT's sign bit is set.
func Call(obj uintptr, index int, args ...uintptr) (uintptr, error) {
	full := make([]uintptr, 0, len(args)+1)
	full = append(full, obj)
	full = append(full, args...)
	hr, _, _ := syscall.SyscallN(vtableFn(obj, index), full...)
	if int32(hr) < 0 {
		return hr, fmt.Errorf("winapi: HRESULT 0x%08X", uint32(hr))
	}
	return hr, nil
}

// Release calls IUnknown::Release (vtable slot 2) on obj, if non-zero.
func Release(obj uintptr) {
	if obj == 0 {
		return
	}
	syscall.SyscallN(vtableFn(obj, 2), obj)
}
