package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbergol/soundmexpro-sub001/internal/config"
	"github.com/dbergol/soundmexpro-sub001/pkg/donesink"
	"github.com/dbergol/soundmexpro-sub001/pkg/drivers/filedriver"
	"github.com/dbergol/soundmexpro-sub001/pkg/drivers/padriver"
	"github.com/dbergol/soundmexpro-sub001/pkg/engine"
	"github.com/dbergol/soundmexpro-sub001/pkg/notify"
	"github.com/dbergol/soundmexpro-sub001/pkg/sampleformat"
	"github.com/dbergol/soundmexpro-sub001/pkg/soundblock"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var engineViper = viper.New()

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run the driver-backed audio engine against a live device or a decoded file",
	Long: `Runs the load/prepare/start/stop audio engine against a real PortAudio
duplex stream, or, with --input-file, against a decoded audio file routed
through pkg/drivers/filedriver as a capture-only source. Either way it's a
copy-through process (capture routed straight to playback, silence until the
first full period arrives) that exercises the full engine lifecycle, xrun
counters and done-path recording from the command line.

Examples:
  # Run with default settings
  soundmexpro-sub001 engine

  # Real-time mode (no buffering) on device 2 at 96kHz
  soundmexpro-sub001 engine --device 2 --sample-rate 96000 --proc-queue-depth 0

  # Record both sides of the done path to WAV files
  soundmexpro-sub001 engine --record-capture in.wav --record-playback out.wav

  # Run against a decoded file instead of a live device
  soundmexpro-sub001 engine --input-file sample.flac`,
	Run: runEngine,
}

func init() {
	rootCmd.AddCommand(engineCmd)
	config.BindFlags(engineCmd, engineViper)
}

func runEngine(cmd *cobra.Command, args []string) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(engineViper)
	if err != nil {
		slog.Error("Invalid engine configuration", "error", err)
		os.Exit(1)
	}

	var drv engine.Driver
	if cfg.InputFile != "" {
		if len(cfg.PlaybackChannels) != 0 {
			slog.Warn("Ignoring playback channels: --input-file only drives a capture source", "playback_channels", cfg.PlaybackChannels)
			cfg.PlaybackChannels = nil
		}
		slog.Info("Using file-fed driver", "path", cfg.InputFile)
		drv = filedriver.New(filedriver.Config{Path: cfg.InputFile})
	} else {
		slog.Info("Initializing PortAudio")
		if err := portaudio.Initialize(); err != nil {
			slog.Error("Failed to initialize PortAudio", "error", err)
			os.Exit(1)
		}
		defer portaudio.Terminate()
		slog.Info("PortAudio initialized", "version", portaudio.GetVersion())

		padrv, err := padriver.New(padriver.Config{
			CaptureChannels:  len(cfg.CaptureChannels),
			PlaybackChannels: len(cfg.PlaybackChannels),
			Format:           sampleformat.Int16LE,
			DefaultRate:      cfg.SampleRate,
		})
		if err != nil {
			slog.Error("Failed to build driver", "error", err)
			os.Exit(1)
		}
		drv = padrv
	}

	var sink engine.DoneSink = engine.NopDoneSink{}
	if cfg.RecordCapture != "" || cfg.RecordPlayback != "" {
		sink = donesink.NewWavSink(cfg.RecordCapture, cfg.RecordPlayback, uint32(cfg.SampleRate))
	}
	defer func() {
		if err := sink.Close(); err != nil {
			slog.Warn("Failed to flush recording sink", "error", err)
		}
	}()

	e := engine.New(drv, engine.Callbacks{
		Process: func(capture, playback *soundblock.Block, waiting int, preloading bool) {
			_ = playback.CopyFrom(capture)
		},
		OnStateChange: func(s engine.State) {
			slog.Info("Engine state change", "state", s.String())
		},
		OnXrun: func(kind notify.Kind) {
			slog.Warn("Xrun", "kind", kind)
		},
		OnFatalError: func(err error) {
			slog.Error("Engine fatal error", "error", err)
		},
		OnHang: func() {
			slog.Warn("Engine watchdog detected a stalled driver")
		},
		OnWarning: func(msg string) {
			slog.Warn("Engine warning", "message", msg)
		},
	})
	e.SetDoneSink(sink)

	slog.Info("Loading driver", "device", cfg.Device)
	if err := e.Load(cfg.Device); err != nil {
		slog.Error("Failed to load driver", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := e.Unload(); err != nil {
			slog.Warn("Failed to unload driver", "error", err)
		}
	}()

	if err := e.SetSampleRate(cfg.SampleRate); err != nil {
		slog.Error("Failed to set sample rate", "error", err)
		os.Exit(1)
	}

	econf := engine.Config{
		CaptureChannels:      cfg.CaptureChannels,
		PlaybackChannels:     cfg.PlaybackChannels,
		FramesPerBlock:       cfg.FramesPerBlock,
		ProcQueueDepth:       cfg.ProcQueueDepth,
		DoneQueueDepth:       cfg.DoneQueueDepth,
		CaptureDoneProcessed: cfg.CaptureDoneProcessed,
		StopSwitches:         cfg.StopSwitches,
		StopSwitchPeriod:     time.Duration(float64(cfg.FramesPerBlock) / cfg.SampleRate * float64(time.Second)),
		StopSwitchSlack:      cfg.StopSwitchSlack,
		WatchdogTimeout:      cfg.WatchdogTimeout,
	}

	slog.Info("Creating buffers",
		"frames_per_block", econf.FramesPerBlock,
		"proc_queue_depth", econf.ProcQueueDepth,
		"done_queue_depth", econf.DoneQueueDepth,
		"sample_rate", cfg.SampleRate)
	if err := e.CreateBuffers(econf); err != nil {
		slog.Error("Failed to create buffers", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := e.DisposeBuffers(); err != nil {
			slog.Warn("Failed to dispose buffers", "error", err)
		}
	}()

	slog.Info("Starting engine")
	if err := e.Start(); err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	statusDone := make(chan struct{})
	go monitorEngine(e, statusDone)

	<-sigChan
	slog.Info("Signal received, stopping engine")
	close(statusDone)

	if err := e.StopAndWait(); err != nil {
		slog.Error("Failed to stop engine cleanly", "error", err)
	}
	slog.Info("Exiting")
}

func monitorEngine(e *engine.Engine, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			procXrun, doneXrun, rtXrun := e.XrunCounts()
			slog.Info("Engine status",
				"state", e.State().String(),
				"buffer_switches", e.ProcBufferSwitches(),
				"xrun_proc", procXrun,
				"xrun_done", doneXrun,
				"xrun_rt", rtXrun,
			)
		case <-done:
			return
		}
	}
}
