package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rmguney/muxsweeper/internal/capture"
	"github.com/rmguney/muxsweeper/internal/watchdog"
)

func main() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	params, showHelp, err := parseFlags(os.Args[1:])
	if showHelp {
		printUsage()
		os.Exit(0)
	}
	if err != nil {
		log.Printf("screencap: %v", err)
		os.Exit(1)
	}

	bridge := watchdog.New()
	bridge.Start()
	defer bridge.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; ok {
			log.Printf("screencap: interrupt received, stopping")
			bridge.Cancel()
		}
	}()
	defer signal.Stop(sigCh)

	status := func(msg string) { log.Printf("screencap: %s", msg) }

	lastProgress := time.Time{}
	progress := func(frames int, elapsedMS int64) {
		now := time.Now()
		if now.Sub(lastProgress) < 500*time.Millisecond {
			return
		}
		lastProgress = now
		log.Printf("screencap: %d frames, %.1fs elapsed", frames, float64(elapsedMS)/1000)
	}

	stats, err := capture.Run(params, status, progress, bridge)
	if err != nil {
		log.Printf("screencap: recording failed: %v", err)
		os.Exit(1)
	}

	log.Printf("screencap: done — %d frames, %d failed, %.1fs, variant=%s",
		stats.TotalFrames, stats.FailedFrames, float64(stats.DurationMS)/1000, stats.Variant)
	if stats.Note != "" {
		log.Printf("screencap: note: %s", stats.Note)
	}
	os.Exit(0)
}

func defaultOutputPath() string {
	return time.Now().Format("060102150405") + ".mp4"
}

// parseFlags mirrors the teacher's stdlib-flag CLI, but registers both the
// long and short spelling of each option that has one: string and int
// options share one variable, boolean options get one variable per
// spelling and are OR'ed together.
func parseFlags(args []string) (capture.Params, bool, error) {
	fs := flag.NewFlagSet("screencap", flag.ContinueOnError)
	fs.Usage = func() {}

	var out string
	fs.StringVar(&out, "out", "", "output file path (default YYMMDDHHMMSS.mp4)")
	fs.StringVar(&out, "o", "", "shorthand for --out")

	var seconds int
	fs.IntVar(&seconds, "time", 0, "duration in seconds; 0 = unlimited")
	fs.IntVar(&seconds, "t", 0, "shorthand for --time")

	var video, videoShort bool
	fs.BoolVar(&video, "video", false, "capture the screen")
	fs.BoolVar(&videoShort, "v", false, "shorthand for --video")

	var system, systemShort bool
	fs.BoolVar(&system, "system", false, "capture system (loopback) audio")
	fs.BoolVar(&systemShort, "s", false, "shorthand for --system")

	var mic, micShort bool
	fs.BoolVar(&mic, "microphone", false, "capture the microphone")
	fs.BoolVar(&micShort, "m", false, "shorthand for --microphone")

	var fps int
	fs.IntVar(&fps, "fps", 30, "target frame rate (1-120)")

	var monitor int
	fs.IntVar(&monitor, "monitor", 0, "monitor index")

	var cursor string
	fs.StringVar(&cursor, "cursor", "on", "on|off")

	var region string
	fs.StringVar(&region, "region", "", "x y w h")

	var help, helpShort bool
	fs.BoolVar(&help, "help", false, "print usage")
	fs.BoolVar(&helpShort, "h", false, "shorthand for --help")

	if err := fs.Parse(args); err != nil {
		return capture.Params{}, false, err
	}
	if help || helpShort {
		return capture.Params{}, true, nil
	}

	p := capture.Params{
		OutputPath:    out,
		TargetFPS:     fps,
		Duration:      seconds,
		Video:         video || videoShort,
		System:        system || systemShort,
		Microphone:    mic || micShort,
		Monitor:       monitor,
		CursorVisible: !strings.EqualFold(cursor, "off"),
	}
	if p.OutputPath == "" {
		p.OutputPath = defaultOutputPath()
	}
	if !strings.HasSuffix(strings.ToLower(p.OutputPath), ".mp4") {
		p.OutputPath += ".mp4"
	}

	if region != "" {
		r, err := parseRegion(region)
		if err != nil {
			return capture.Params{}, false, err
		}
		p.Region = r
		p.RegionActive = true
	}

	if err := p.Validate(); err != nil {
		return capture.Params{}, false, err
	}
	return p, false, nil
}

func parseRegion(s string) (*capture.Region, error) {
	parts := strings.Fields(s)
	if len(parts) != 4 {
		return nil, fmt.Errorf("--region expects 4 integers \"x y w h\", got %q", s)
	}
	vals := make([]int, 4)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("--region: %q is not an integer", part)
		}
		vals[i] = n
	}
	return &capture.Region{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}, nil
}

func printUsage() {
	fmt.Println(`screencap — screen and audio capture to MP4

Usage:
  screencap [-o|--out PATH] [-t|--time SECONDS] [-v|--video] [-s|--system]
            [-m|--microphone] [--fps N] [--monitor N] [--cursor on|off]
            [--region "x y w h"]

  -o, --out <path>     output path (default: YYMMDDHHMMSS.mp4)
  -t, --time <sec>     duration in seconds; 0 = unlimited
  -v, --video          capture the screen
  -s, --system         capture system (loopback) audio
  -m, --microphone     capture the microphone
      --fps <1..120>   target frame rate (default 30)
      --monitor <n>    monitor index (default 0)
      --cursor on|off  parsed but has no effect; frames never include the cursor
      --region "x y w h"  capture a sub-rectangle of the monitor
  -h, --help           print this message

Exit codes: 0 success, 1 general failure, 2 emergency-watchdog kill.`)
}
