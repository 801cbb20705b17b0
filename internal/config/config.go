// Package config binds the engine command's parameters through viper.
// The engine command needs enough settings that a config file becomes
// worth supporting alongside plain flags, so this package gives them a
// home: flags win over config-file values, which win over defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EngineConfig holds every setting the engine command needs to load a
// driver, size its buffers, and run the stop/watchdog protocol.
type EngineConfig struct {
	Device           string
	CaptureChannels  []int
	PlaybackChannels []int
	SampleRate       float64
	FramesPerBlock   int

	ProcQueueDepth       int
	DoneQueueDepth       int
	CaptureDoneProcessed bool

	StopSwitches     int
	StopSwitchSlack  time.Duration
	WatchdogTimeout  time.Duration

	RecordCapture  string
	RecordPlayback string

	// InputFile, when set, selects pkg/drivers/filedriver instead of the
	// live PortAudio driver: the engine runs against a decoded file as
	// its capture source instead of a sound card.
	InputFile string
}

// BindFlags registers the engine command's flags and binds each one
// into v, so a later call to Load sees flag values, environment
// variables (SOUNDMEXPRO_* prefix) and an optional config file merged
// in viper's usual precedence order.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()

	flags.String("device", "0", "driver device selector (index or name, driver-dependent)")
	flags.IntSlice("capture-channels", []int{0, 1}, "zero-based capture channel indices")
	flags.IntSlice("playback-channels", []int{0, 1}, "zero-based playback channel indices")
	flags.Float64("sample-rate", 48000, "sample rate in Hz")
	flags.Int("frames-per-block", 256, "frames per processing period")

	flags.Int("proc-queue-depth", 2, "buffered-mode processing queue depth (0 selects real-time mode)")
	flags.Int("done-queue-depth", 8, "done-path (visualization/recording) queue depth; 0 disables it")
	flags.Bool("capture-done-processed", false, "mirror post-process capture (instead of raw) to the done path")

	flags.Int("stop-switches", 4, "driver periods the stop protocol waits for before calling Driver.Stop")
	flags.Duration("stop-switch-slack", 5*time.Millisecond, "slack added to one period's duration for the stop-switch wait timeout")
	flags.Duration("watchdog-timeout", 500*time.Millisecond, "watchdog polling interval for stalled buffer switches")

	flags.String("record-capture", "", "WAV file path to record the capture side of the done path to (empty disables)")
	flags.String("record-playback", "", "WAV file path to record the playback side of the done path to (empty disables)")

	flags.String("input-file", "", "decode this audio file as the capture source instead of opening a live device (.wav/.flac/.mp3)")

	flags.String("config", "", "optional config file (yaml/json/toml) merged under flag values")

	v.SetEnvPrefix("soundmexpro")
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
}

// Load resolves an EngineConfig from v, reading the --config file (if
// set) first so flag defaults still win only when the user left a
// flag unset on the command line.
func Load(v *viper.Viper) (EngineConfig, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return EngineConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := EngineConfig{
		Device:               v.GetString("device"),
		CaptureChannels:      v.GetIntSlice("capture-channels"),
		PlaybackChannels:     v.GetIntSlice("playback-channels"),
		SampleRate:           v.GetFloat64("sample-rate"),
		FramesPerBlock:       v.GetInt("frames-per-block"),
		ProcQueueDepth:       v.GetInt("proc-queue-depth"),
		DoneQueueDepth:       v.GetInt("done-queue-depth"),
		CaptureDoneProcessed: v.GetBool("capture-done-processed"),
		StopSwitches:         v.GetInt("stop-switches"),
		StopSwitchSlack:      v.GetDuration("stop-switch-slack"),
		WatchdogTimeout:      v.GetDuration("watchdog-timeout"),
		RecordCapture:        v.GetString("record-capture"),
		RecordPlayback:       v.GetString("record-playback"),
		InputFile:            v.GetString("input-file"),
	}

	if err := cfg.validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func (c EngineConfig) validate() error {
	if c.FramesPerBlock <= 0 {
		return fmt.Errorf("config: frames-per-block must be positive, got %d", c.FramesPerBlock)
	}
	if len(c.CaptureChannels) == 0 && len(c.PlaybackChannels) == 0 {
		return fmt.Errorf("config: at least one capture or playback channel must be configured")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: sample-rate must be positive, got %f", c.SampleRate)
	}
	return nil
}
