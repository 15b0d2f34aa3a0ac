package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/seanesla/kanari-sub001/analyzer"
	"github.com/seanesla/kanari-sub001/audio"
	"github.com/seanesla/kanari-sub001/convo"
	"github.com/seanesla/kanari-sub001/dispatch"
	"github.com/seanesla/kanari-sub001/doctor"
	"github.com/seanesla/kanari-sub001/log"
	"github.com/seanesla/kanari-sub001/session"
	"github.com/seanesla/kanari-sub001/shutdown"
	"github.com/seanesla/kanari-sub001/store"
	"github.com/seanesla/kanari-sub001/transcript"
)

var version = "dev"

var shutdownOnce sync.Once

func main() {
	run()
}

func run() {
	configFlag := flag.String("config", "kanari.toml", "Config file path")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	testFlag := flag.Bool("test", false, "Headless scripted mode: stdin commands drive a session fed from a WAV file")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	tzFlag := flag.String("timezone", "", "IANA timezone for scheduling (default: system local)")
	storeFlag := flag.String("store", "", "SQLite database path")
	recordFlag := flag.Bool("record", false, "Keep raw session audio on the finalized record")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	flag.Parse()

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg.applyEnv()
	if *deviceFlag != "" {
		cfg.Device = *deviceFlag
	}
	if *tzFlag != "" {
		cfg.Timezone = *tzFlag
	}
	if *storeFlag != "" {
		cfg.StorePath = *storeFlag
	}
	if *recordFlag {
		cfg.ArchiveAudio = true
	}
	if *logPathFlag != "" {
		cfg.LogPath = *logPathFlag
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if *versionFlag {
		fmt.Printf("kanari %s\n", version)
		os.Exit(0)
	}

	if *doctorFlag {
		os.Exit(doctor.Run(doctor.Config{WSURL: cfg.WSURL, APIKey: cfg.APIKey}))
	}

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: kanari -test <wav-file>")
			os.Exit(1)
		}
		runTestMode(args[0], cfg)
		return
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "Error: no API key. Set KANARI_API_KEY or api_key in kanari.toml.")
		os.Exit(1)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		os.Exit(1)
	}
	defer actx.Close()

	selectedDevice := resolveDevice(actx, cfg.Device, *setupFlag)

	storePath, err := cfg.storePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving store path: %v\n", err)
		os.Exit(1)
	}
	st, err := store.OpenSQLite(storePath)
	if err != nil {
		log.Errorf("store open error: %v", err)
		fmt.Fprintf(os.Stderr, "Error opening store %s: %v\n", storePath, err)
		os.Exit(1)
	}
	defer st.Close()

	anl, err := analyzer.NewBaseline()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing analyzer: %v\n", err)
		os.Exit(1)
	}

	orch := session.New(session.Config{
		Audio:       actx,
		Client:      convo.NewWSClient(cfg.WSURL, cfg.APIKey),
		Store:       st,
		Scheduler:   store.NewBlockScheduler(st),
		Analyzer:    anl,
		Detector:    analyzer.NewRuleDetector(),
		Device:      selectedDevice,
		Timezone:    cfg.Timezone,
		RecordAudio: cfg.ArchiveAudio,
		OnState: func(from, to session.State) {
			tuiSend(StateMsg{From: from, To: to})
		},
		OnLevel: func(level float64) {
			tuiSend(LevelMsg{Level: level})
		},
		OnTranscript: func(msgs []transcript.Message) {
			tuiSend(TranscriptMsg{Messages: msgs})
		},
		OnWidgets: func(ws []dispatch.Widget) {
			tuiSend(WidgetsMsg{Widgets: ws})
		},
	})

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown(orch)
	}()

	if !*tuiFlag {
		runConsole(orch)
		gracefulShutdown(orch)
		return
	}

	deviceName := "system default"
	if selectedDevice != nil {
		deviceName = selectedDevice.Name
	}

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(orch, deviceName)
	tuiMu.Unlock()

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}
	gracefulShutdown(orch)
}

func resolveDevice(actx audio.Context, name string, setup bool) *audio.DeviceInfo {
	if name != "" {
		devices, err := actx.Devices()
		if err != nil {
			log.Warnf("device enumeration failed: %v", err)
			return nil
		}
		for i := range devices {
			if devices[i].Name == name {
				return &devices[i]
			}
		}
		log.Warnf("device not found, using default: %s", name)
		return nil
	}
	if setup {
		dev, err := selectDevice(actx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			return nil
		}
		return dev
	}
	return nil
}

// runConsole drives a single session without the TUI: start immediately,
// run until the backend closes the session or a signal ends it, then dump
// the finalized transcript.
func runConsole(orch *session.Orchestrator) {
	fmt.Println("Starting check-in (ctrl+c to end)...")
	if err := orch.Start(session.StartOptions{UserGesture: true}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	for orch.State().Active() || orch.State() == session.StateEnding {
		time.Sleep(250 * time.Millisecond)
	}
	if orch.State() == session.StateError {
		fmt.Fprintln(os.Stderr, "Error: "+orch.LastError())
		return
	}
	for _, m := range orch.Messages() {
		fmt.Printf("%s: %s\n", m.Role, m.Content)
	}
}

func gracefulShutdown(orch *session.Orchestrator) {
	shutdownOnce.Do(func() {
		if err := orch.End(); err != nil {
			log.Errorf("shutdown end error: %v", err)
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}
