package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newBoundCommand() (*cobra.Command, *viper.Viper) {
	cmd := &cobra.Command{Use: "engine", Run: func(*cobra.Command, []string) {}}
	v := viper.New()
	BindFlags(cmd, v)
	return cmd, v
}

func TestLoadAppliesFlagDefaults(t *testing.T) {
	_, v := newBoundCommand()

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FramesPerBlock != 256 {
		t.Errorf("FramesPerBlock: got %d, want 256", cfg.FramesPerBlock)
	}
	if cfg.ProcQueueDepth != 2 {
		t.Errorf("ProcQueueDepth: got %d, want 2", cfg.ProcQueueDepth)
	}
	if len(cfg.CaptureChannels) != 2 {
		t.Errorf("CaptureChannels: got %v, want 2 entries", cfg.CaptureChannels)
	}
	if cfg.InputFile != "" {
		t.Errorf("InputFile: got %q, want empty by default", cfg.InputFile)
	}
}

func TestLoadAppliesInputFileFlag(t *testing.T) {
	cmd, v := newBoundCommand()
	if err := cmd.Flags().Set("input-file", "sample.wav"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InputFile != "sample.wav" {
		t.Errorf("InputFile: got %q, want %q", cfg.InputFile, "sample.wav")
	}
}

func TestLoadRejectsZeroFramesPerBlock(t *testing.T) {
	cmd, v := newBoundCommand()
	if err := cmd.Flags().Set("frames-per-block", "0"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := Load(v); err == nil {
		t.Fatalf("Load: expected an error for frames-per-block=0")
	}
}

func TestLoadRejectsNoChannelsConfigured(t *testing.T) {
	_, v := newBoundCommand()
	// viper.Set takes precedence over the bound flag defaults, without
	// going through pflag's IntSlice parser (which rejects "").
	v.Set("capture-channels", []int{})
	v.Set("playback-channels", []int{})

	if _, err := Load(v); err == nil {
		t.Fatalf("Load: expected an error with no channels configured")
	}
}
