//go:build windows

package watchdog

import (
	"log"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Win32 has no suspend/resume signal a pure-Go goroutine can wait on — it
// only ever reaches a process via WM_POWERBROADCAST, delivered to a window
// procedure. watchPower stands up the smallest window capable of
// receiving that message (HWND_MESSAGE, no class style, no visible
// surface) purely so Bridge.onPowerEvent has something to call.
var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	kernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procRegisterClassExW = user32.NewProc("RegisterClassExW")
	procCreateWindowExW  = user32.NewProc("CreateWindowExW")
	procDefWindowProcW   = user32.NewProc("DefWindowProcW")
	procGetMessageW      = user32.NewProc("GetMessageW")
	procTranslateMessage = user32.NewProc("TranslateMessage")
	procDispatchMessageW = user32.NewProc("DispatchMessageW")
	procGetModuleHandleW = kernel32.NewProc("GetModuleHandleW")
	hwndMessageOnly      = windows.Handle(^uintptr(2))
)

const (
	wmPowerBroadcast      = 0x0218
	pbtAPMSuspend         = 0x0004
	pbtAPMResumeAutomatic = 0x0012
	pbtAPMResumeSuspend   = 0x0007
)

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       windows.Handle
	Cursor     windows.Handle
	Background windows.Handle
	MenuName   *uint16
	ClassName  *uint16
	IconSm     windows.Handle
}

type msgT struct {
	Hwnd    windows.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

var powerOnce sync.Once

// watchPower registers the message-only window once per process and
// starts its GetMessage loop on a dedicated goroutine. The returned stop
// function is best-effort: Win32 gives no clean way to unregister a
// message-only window from another goroutine, so once armed the loop
// simply lives until process exit.
func watchPower(onEvent func(powerEvent)) func() {
	powerOnce.Do(func() { go powerMsgLoop(onEvent) })
	return func() {}
}

func powerMsgLoop(onEvent func(powerEvent)) {
	className, _ := windows.UTF16PtrFromString("muxsweeper.emergencyTimerPowerSink")
	hInstance := getModuleHandle()

	wc := wndClassEx{
		Size:      uint32(unsafe.Sizeof(wndClassEx{})),
		Instance:  hInstance,
		ClassName: className,
		WndProc: windows.NewCallback(func(hwnd windows.Handle, m uint32, wparam, lparam uintptr) uintptr {
			if m == wmPowerBroadcast {
				switch wparam {
				case pbtAPMSuspend:
					onEvent(powerSuspend)
					return 1
				case pbtAPMResumeAutomatic, pbtAPMResumeSuspend:
					onEvent(powerResume)
					return 1
				}
			}
			ret, _, _ := procDefWindowProcW.Call(uintptr(hwnd), uintptr(m), wparam, lparam)
			return ret
		}),
	}

	if r, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); r == 0 {
		log.Printf("watchdog: power sink RegisterClassEx failed: %v", err)
		return
	}

	hwnd, _, err := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(className)),
		0, 0,
		0, 0, 0, 0,
		uintptr(hwndMessageOnly), 0, uintptr(hInstance), 0,
	)
	if hwnd == 0 {
		log.Printf("watchdog: power sink CreateWindowEx failed: %v", err)
		return
	}

	var m msgT
	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(r) {
		case -1:
			log.Printf("watchdog: power sink GetMessageW error")
			return
		case 0:
			return // WM_QUIT
		default:
			procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
			procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
		}
	}
}

func getModuleHandle() windows.Handle {
	r, _, _ := procGetModuleHandleW.Call(0)
	return windows.Handle(r)
}
