package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"gridlock/detector"
	"gridlock/gridlog"
	"gridlock/showcase"
	"gridlock/stress"
)

var (
	// Version is set during build time.
	Version = "dev"
	// BuildTime is set during build time.
	BuildTime = "unknown"
	// GitCommit is set during build time.
	GitCommit = "unknown"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func getVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func printVersion() {
	info := getVersionInfo()
	fmt.Printf("gridlock %s\n", info.Version)
	fmt.Printf("Build Time: %s\n", info.BuildTime)
	fmt.Printf("Git Commit: %s\n", info.GitCommit)
	fmt.Printf("Go Version: %s\n", info.GoVersion)
	fmt.Printf("Platform: %s\n", info.Platform)
}

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "--version":
		printVersion()
	case "replay":
		runReplay(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "help", "--help":
		showUsage()
	default:
		fmt.Fprintf(os.Stderr, "gridlock: unknown command %q\n\n", os.Args[1])
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println("gridlock - runtime deadlock detection for mutex, rwlock, and condvar based programs")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  gridlock <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  replay  <event-log.jsonl>   re-encode a captured event log as a shareable showcase link")
	fmt.Println("  watch   <config.yaml>       load and validate a detector config and configure the engine from it")
	fmt.Println("  version                     print version information")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GRIDLOCK_LOCK_ORDER_GRAPH             enable the lock-order early-warning graph")
	fmt.Println("  GRIDLOCK_LOG_SINK_PATH                path to the event log written during detection")
	fmt.Println("  GRIDLOCK_STRESS_MODE                  none, random-preemption, or component-based")
	fmt.Println("  GRIDLOCK_STRESS_PROBABILITY           chance a contended attempt is delayed")
	fmt.Println("  GRIDLOCK_STRESS_MIN_DELAY_US           minimum injected delay, in microseconds")
	fmt.Println("  GRIDLOCK_STRESS_MAX_DELAY_US           maximum injected delay, in microseconds")
	fmt.Println("  GRIDLOCK_STRESS_PREEMPT_AFTER_RELEASE  also delay after a lock release")
}

// runReplay reads a gridlog event log (one JSON record per line, as written
// by gridlog.EventLogger) and prints a showcase link codec-compressing the
// whole capture, so a reproduction can be pasted somewhere else.
func runReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	codec := fs.String("codec", "zstd", "compression codec: zstd or lz4")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: gridlock replay [-codec zstd|lz4] <event-log.jsonl>")
		os.Exit(1)
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		log.Fatalf("gridlock: open event log: %v", err)
	}
	defer f.Close()

	var records []gridlog.Record
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var r gridlog.Record
		if err := dec.Decode(&r); err != nil {
			log.Fatalf("gridlock: decode event log: %v", err)
		}
		records = append(records, r)
	}

	data, err := showcase.Pack(records)
	if err != nil {
		log.Fatalf("gridlock: pack records: %v", err)
	}

	link, err := showcase.Encode(data, showcase.Codec(*codec))
	if err != nil {
		log.Fatalf("gridlock: encode showcase link: %v", err)
	}

	fmt.Printf("%d events packed (%s)\n", len(records), *codec)
	fmt.Println(link)
}

// runWatch loads a detector configuration file and wires up an engine with
// a gridlog sink and a stress hook, mirroring how a long-running program
// would call detector.Init during its own startup. It doesn't drive the
// engine itself — embedding programs call the Engine's On* hooks directly
// from their own mutex/rwlock/condvar wrappers — but it validates the
// config end to end and reports what would be active.
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: gridlock watch <config.yaml>")
		os.Exit(1)
	}

	cfg, err := detector.LoadConfigFile(fs.Arg(0))
	if err != nil {
		log.Fatalf("gridlock: load config: %v", err)
	}

	opts := cfg.Options()

	var eventLogger *gridlog.EventLogger
	if cfg.LogSinkPath != "" {
		eventLogger, err = gridlog.NewEventLogger(cfg.LogSinkPath)
		if err != nil {
			log.Fatalf("gridlock: open log sink: %v", err)
		}
		defer eventLogger.Close()
		opts = append(opts, detector.WithLogSink(eventLogger))
	}

	if cfg.StressMode != "none" {
		mode := stressModeFromString(cfg.StressMode)
		hook := stress.NewHook(mode, stress.Config{
			ProbabilityPerAttempt: cfg.StressProbability,
			MinDelay:              microDuration(cfg.StressMinDelayMicros),
			MaxDelay:              microDuration(cfg.StressMaxDelayMicros),
			PreemptAfterRelease:   cfg.StressPreemptAfterRelease,
		})
		opts = append(opts, detector.WithStressHook(hook))
	}

	opts = append(opts, detector.WithCallback(func(info detector.DeadlockInfo) {
		fmt.Printf("DEADLOCK detected: cycle=%v waiting-on-lock=%v at %s\n",
			info.ThreadCycle, info.ThreadWaitingForLock, info.Timestamp.Format("15:04:05.000"))
	}))
	if cfg.LockOrderGraph {
		opts = append(opts, detector.WithLockOrderCallback(func(report detector.LockOrderReport) {
			fmt.Printf("lock-order warning: cycle=%v at %s\n", report.Cycle, report.Timestamp.Format("15:04:05.000"))
		}))
	}

	detector.Init(opts...)
	fmt.Println("gridlock: engine configured and ready; wire your mutex/rwlock/condvar wrappers to detector.Default() hooks")
}

func stressModeFromString(s string) stress.Mode {
	switch s {
	case "random-preemption":
		return stress.ModeRandomPreemption
	case "component-based":
		return stress.ModeComponentBased
	default:
		return stress.ModeNone
	}
}

func microDuration(us uint64) (d time.Duration) {
	return time.Duration(us) * time.Microsecond
}
