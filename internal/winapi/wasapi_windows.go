//go:build windows

package winapi

import (
	"fmt"
	"syscall"
	"unsafe"
)

// WASAPI GUIDs, grounded on the pack's LanternOps-breeze audio_windows.go.
var (
	clsidMMDeviceEnumerator = GUID{0xBCDE0395, 0xE52F, 0x467C, [8]byte{0x8E, 0x3D, 0xC4, 0x57, 0x92, 0x91, 0x69, 0x2E}}
	iidIMMDeviceEnumerator  = GUID{0xA95664D2, 0x9614, 0x4F35, [8]byte{0xA7, 0x46, 0xDE, 0x8D, 0xB6, 0x36, 0x17, 0xE6}}
	iidIAudioClient         = GUID{0x1CB9AD4C, 0xDBFA, 0x4c32, [8]byte{0xB1, 0x78, 0xC2, 0xF5, 0x68, 0xA7, 0x03, 0xB2}}
	iidIAudioCaptureClient  = GUID{0xC8ADBD64, 0xE71E, 0x48a0, [8]byte{0xA4, 0xDE, 0x18, 0x5C, 0x39, 0x5C, 0xD3, 0x17}}
)

// Endpoint selects which default WASAPI endpoint to open.
type Endpoint int

const (
	// EndpointRender is the default playback device; combined with the
	// loopback stream flag it captures "what the OS is playing back".
	EndpointRender Endpoint = 0
	// EndpointCapture is the default microphone device.
	EndpointCapture Endpoint = 1
)

const (
	eConsole = 0

	audclntStreamFlagsLoopback = 0x00020000
	audclntShareModeShared     = 0

	waveFormatPCM        = 0x0001
	waveFormatIEEEFloat  = 0x0003
	waveFormatExtensible = 0xFFFE

	// IMMDeviceEnumerator / IMMDevice / IAudioClient / IAudioCaptureClient
	// vtable slots (IUnknown = 0,1,2; interface methods follow).
	mmdeGetDefaultAudioEndpoint = 4
	mmDeviceActivate            = 3
	audioClientInitialize       = 3
	audioClientGetMixFormat     = 8
	audioClientStart            = 10
	audioClientStop             = 11
	audioClientGetService       = 14
	capClientGetBuffer          = 3
	capClientReleaseBuffer      = 4
)

// waveFormatEx mirrors WAVEFORMATEX.
type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
}

// AudioClient wraps the WASAPI COM pointers a capture source needs for
// its whole lifetime.
type AudioClient struct {
	enumerator    uintptr
	device        uintptr
	client        uintptr
	captureClient uintptr

	SampleRate    int
	Channels      int
	BitsPerSample int
	IsFloat       bool
}

// OpenAudioClient creates the MMDeviceEnumerator, opens the requested
// default endpoint in shared mode with a 50ms buffer, and — for
// EndpointRender — sets the loopback stream flag so the render endpoint's
// own playback is captured rather than routed to it.
func OpenAudioClient(endpoint Endpoint) (*AudioClient, error) {
	enumerator, err := CoCreateInstance(&clsidMMDeviceEnumerator, &iidIMMDeviceEnumerator)
	if err != nil {
		return nil, fmt.Errorf("winapi: CoCreateInstance MMDeviceEnumerator: %w", err)
	}

	var device uintptr
	if _, err := Call(enumerator, mmdeGetDefaultAudioEndpoint, uintptr(endpoint), uintptr(eConsole), uintptr(unsafe.Pointer(&device))); err != nil {
		Release(enumerator)
		return nil, fmt.Errorf("winapi: GetDefaultAudioEndpoint: %w", err)
	}

	var client uintptr
	if _, err := Call(device, mmDeviceActivate, uintptr(unsafe.Pointer(&iidIAudioClient)), uintptr(clsctxAll), 0, uintptr(unsafe.Pointer(&client))); err != nil {
		Release(device)
		Release(enumerator)
		return nil, fmt.Errorf("winapi: Activate IAudioClient: %w", err)
	}

	var mixFormatPtr uintptr
	if _, err := Call(client, audioClientGetMixFormat, uintptr(unsafe.Pointer(&mixFormatPtr))); err != nil {
		Release(client)
		Release(device)
		Release(enumerator)
		return nil, fmt.Errorf("winapi: GetMixFormat: %w", err)
	}
	mixFormat := *(*waveFormatEx)(unsafe.Pointer(mixFormatPtr))

	var streamFlags uintptr
	if endpoint == EndpointRender {
		streamFlags = audclntStreamFlagsLoopback
	}

	const bufferDuration = int64(50 * 10000) // 50ms in 100-ns units, per spec §4.2
	_, err = Call(client, audioClientInitialize,
		uintptr(audclntShareModeShared),
		streamFlags,
		uintptr(bufferDuration),
		0,
		mixFormatPtr,
		0,
	)
	CoTaskMemFree(mixFormatPtr)
	if err != nil {
		Release(client)
		Release(device)
		Release(enumerator)
		return nil, fmt.Errorf("winapi: Initialize: %w", err)
	}

	var captureClient uintptr
	if _, err := Call(client, audioClientGetService, uintptr(unsafe.Pointer(&iidIAudioCaptureClient)), uintptr(unsafe.Pointer(&captureClient))); err != nil {
		Release(client)
		Release(device)
		Release(enumerator)
		return nil, fmt.Errorf("winapi: GetService IAudioCaptureClient: %w", err)
	}

	bitsPerSample := int(mixFormat.BitsPerSample)
	isFloat := mixFormat.FormatTag == waveFormatIEEEFloat ||
		(mixFormat.FormatTag == waveFormatExtensible && bitsPerSample == 32)

	return &AudioClient{
		enumerator:    enumerator,
		device:        device,
		client:        client,
		captureClient: captureClient,
		SampleRate:    int(mixFormat.SamplesPerSec),
		Channels:      int(mixFormat.Channels),
		BitsPerSample: bitsPerSample,
		IsFloat:       isFloat,
	}, nil
}

// Start starts the underlying audio client.
func (a *AudioClient) Start() error {
	_, err := Call(a.client, audioClientStart)
	return err
}

// Stop stops the underlying audio client.
func (a *AudioClient) Stop() error {
	_, err := Call(a.client, audioClientStop)
	return err
}

// NextPacketFrames returns the number of frames in the next packet ready
// to be read from the OS ring (0 if none).
func (a *AudioClient) NextPacketFrames() (int, error) {
	var size uint32
	const getNextPacketSize = 5 // IAudioCaptureClient::GetNextPacketSize
	if _, err := Call(a.captureClient, getNextPacketSize, uintptr(unsafe.Pointer(&size))); err != nil {
		return 0, err
	}
	return int(size), nil
}

// GetBuffer maps the next packet from the OS ring. silent reports whether
// the OS flagged the packet as silent (caller should treat data as
// zero-filled without needing to read it).
func (a *AudioClient) GetBuffer() (data []byte, frames int, silent bool, err error) {
	const audclntBufferflagsSilent = 0x2
	var ptr uintptr
	var numFrames uint32
	var flags uint32

	hr, _, _ := syscall.SyscallN(
		vtableFn(a.captureClient, capClientGetBuffer),
		a.captureClient,
		uintptr(unsafe.Pointer(&ptr)),
		uintptr(unsafe.Pointer(&numFrames)),
		uintptr(unsafe.Pointer(&flags)),
		0,
		0,
	)
	if int32(hr) < 0 {
		return nil, 0, false, fmt.Errorf("winapi: GetBuffer: 0x%08X", uint32(hr))
	}
	if numFrames == 0 {
		return nil, 0, false, nil
	}

	blockAlign := a.Channels * a.BitsPerSample / 8
	size := int(numFrames) * blockAlign
	view := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
	isSilent := flags&audclntBufferflagsSilent != 0
	return view, int(numFrames), isSilent, nil
}

// ReleaseBuffer returns frames to the capture client's ring.
func (a *AudioClient) ReleaseBuffer(frames int) error {
	_, err := Call(a.captureClient, capClientReleaseBuffer, uintptr(frames))
	return err
}

// Close releases every COM pointer this handle owns. Idempotent.
func (a *AudioClient) Close() {
	if a.captureClient != 0 {
		Release(a.captureClient)
		a.captureClient = 0
	}
	if a.client != 0 {
		Release(a.client)
		a.client = 0
	}
	if a.device != 0 {
		Release(a.device)
		a.device = 0
	}
	if a.enumerator != 0 {
		Release(a.enumerator)
		a.enumerator = 0
	}
}
