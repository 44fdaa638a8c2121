//go:build !windows

package watchdog

func watchPower(onEvent func(powerEvent)) func() {
	return func() {}
}
