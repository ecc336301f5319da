package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"evichat/audio"
	"evichat/config"
	"evichat/cue"
	"evichat/doctor"
	"evichat/hotkey"
	"evichat/log"
	"evichat/lookup"
	"evichat/session"
	"evichat/shutdown"
)

var version = "dev"

type flags struct {
	endpoint  string
	encoding  string
	gain      int
	device    string
	setup     bool
	logPath   string
	envFile   string
	test      bool
	doctor    bool
	autoStop  bool
	longPress time.Duration
	profile   string
	version   bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.endpoint, "endpoint", "", "voice session WebSocket URL (overrides EVI_ENDPOINT)")
	flag.StringVar(&f.encoding, "encoding", "", "audio encoding sent upstream: flac or linear16 (overrides EVI_AUDIO_ENCODING)")
	flag.IntVar(&f.gain, "gain", 0, "microphone gain multiplier, 1 to 16 (overrides EVI_MIC_GAIN)")
	flag.StringVar(&f.device, "device", "", "use the microphone whose name contains this text")
	flag.BoolVar(&f.setup, "setup", false, "pick the microphone interactively")
	flag.StringVar(&f.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.StringVar(&f.envFile, "env", ".env", "dotenv file with credentials and settings")
	flag.BoolVar(&f.test, "test", false, "headless mode: replay a WAV file, driven by commands on stdin")
	flag.BoolVar(&f.doctor, "doctor", false, "run system diagnostics and exit")
	flag.BoolVar(&f.autoStop, "autostop", false, "stop recording after 30s without voice")
	flag.DurationVar(&f.longPress, "longpress", 350*time.Millisecond, "hotkey hold time that switches to push-to-talk")
	flag.StringVar(&f.profile, "profile", "", "enable pprof server (e.g. localhost:6060)")
	flag.BoolVar(&f.version, "version", false, "print version and exit")
	flag.Parse()
	return f
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func loadConfig(f flags) *config.Config {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fail("%v", err)
	}
	if f.endpoint != "" {
		cfg.Endpoint = f.endpoint
	}
	if f.encoding != "" {
		enc := strings.ToLower(f.encoding)
		if err := config.ValidateEncoding(enc); err != nil {
			fail("%v", err)
		}
		cfg.Encoding = enc
	}
	if f.gain != 0 {
		if err := config.ValidateMicGain(f.gain); err != nil {
			fail("%v", err)
		}
		cfg.MicGain = f.gain
	}
	return cfg
}

func setupLogging(f flags) {
	dir, err := log.ResolveDir(f.logPath)
	if err != nil {
		fail("failed to resolve log directory: %v", err)
	}
	log.SetDir(dir)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
}

func newDialer(cfg *config.Config) session.Dialer {
	return session.NewWebSocketDialer(cfg.Endpoint, session.DialOptions{})
}

// pickDevice resolves -device and -setup. A nil device means the system
// default.
func pickDevice(ctx audio.Context, f flags) *audio.DeviceInfo {
	switch {
	case f.device != "":
		dev, err := audio.FindDevice(ctx, f.device)
		if err != nil {
			fail("%v", err)
		}
		return dev
	case f.setup:
		dev, err := audio.SelectDevice(ctx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\nFalling back to default device\n", err)
			return nil
		}
		return dev
	}
	return nil
}

func deviceLineText(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "mic: system default"
	}
	if audio.IsBluetooth(dev.Name) {
		return "mic: " + dev.Name + " (headset profile, reduced quality)"
	}
	return "mic: " + dev.Name
}

func run() {
	f := parseFlags()

	if f.version {
		fmt.Printf("evichat %s\n", version)
		return
	}

	cfg := loadConfig(f)
	setupLogging(f)
	defer log.Close()

	if f.profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", f.profile)
			if err := http.ListenAndServe(f.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	switch {
	case f.doctor:
		code := runDoctor(ctx, f, cfg)
		log.Close()
		os.Exit(code)
	case f.test:
		if flag.NArg() == 0 {
			fail("usage: evichat -test <wav-file>")
		}
		runTest(ctx, f, cfg, flag.Arg(0))
		return
	}

	if !cfg.HasCredentials() {
		fmt.Fprintln(os.Stderr, "Warning: HUME_API_KEY is not set; the server will likely reject the session")
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fail("initializing audio: %v", err)
	}
	defer audioCtx.Close()
	device := pickDevice(audioCtx, f)

	sink := &tuiSink{}
	a := newApp(appDeps{
		cfg:      cfg,
		dialer:   newDialer(cfg),
		audioCtx: audioCtx,
		device:   device,
		autoStop: f.autoStop,
		sink:     sink,
	})

	hotkeyHelp := ""
	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Warnf("hotkey unavailable: %v", err)
	} else {
		defer hk.Unregister()
		hotkeyHelp = hotkey.Combo
		go hotkey.NewToggler(hk, f.longPress, a).Run(ctx)
	}

	program := NewTUIProgram(newTUIModel(a, hotkeyHelp))
	sink.program = program

	deviceName := "default"
	if device != nil {
		deviceName = device.Name
	}
	log.SessionStart(cfg.Endpoint, cfg.Encoding, deviceName)

	go func() {
		// blocks until the program is running
		program.Send(DeviceLineMsg{Text: deviceLineText(device)})
		if err := a.start(ctx); err != nil {
			log.Errorf("session start: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}
	stop()
	a.shutdown()
}

func runTest(ctx context.Context, f flags, cfg *config.Config, wavPath string) {
	cue.Disable()

	fake, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fail("loading WAV: %v", err)
	}
	a := newApp(appDeps{
		cfg:      cfg,
		dialer:   newDialer(cfg),
		audioCtx: fake,
		autoStop: f.autoStop,
		sink:     &headlessSink{out: os.Stdout},
	})
	log.SessionStart(cfg.Endpoint, cfg.Encoding, "wav:"+filepath.Base(wavPath))

	if err := a.start(ctx); err != nil {
		fail("starting session: %v", err)
	}
	runHeadless(ctx, a, fake, os.Stdin, os.Stdout)
	a.rec.Stop()
	a.client.WaitLookups()
	a.shutdown()
}

func runDoctor(ctx context.Context, f flags, cfg *config.Config) int {
	cue.Disable()
	c := &doctor.Checker{
		Dialer: newDialer(cfg),
		Credentials: session.Credentials{
			APIKey:    cfg.APIKey,
			SecretKey: cfg.SecretKey,
			ConfigID:  cfg.ConfigID,
		},
		Lookup: lookup.New(cfg.LookupURL, lookup.WithTimeout(cfg.LookupTimeout)),
		Hotkey: hotkey.Diagnose,
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("Warning: audio unavailable, skipping microphone check: %v\n", err)
	} else {
		defer audioCtx.Close()
		c.Audio = audioCtx
		c.Device = pickDevice(audioCtx, f)
	}
	return c.Run(ctx, os.Stdout)
}
