package viewer

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/sceneviewer/gpu"
)

func TestDefaultConfigNeedsOnlyAScene(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, gpu.ErrConfiguration) {
		t.Errorf("config without a scene: got %v", err)
	}

	cfg.ScenePath = "model.gltf"
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
	if cfg.ShaderProfile != Profile {
		t.Errorf("shader profile = %q, want %q", cfg.ShaderProfile, Profile)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative scene", func(c *Config) { c.Scene = -2 }},
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"negative height", func(c *Config) { c.Height = -1 }},
		{"no profile", func(c *Config) { c.ShaderProfile = "" }},
		{"negative timeout", func(c *Config) { c.FenceTimeout = -time.Second }},
		{"no block size", func(c *Config) { c.HostBlockSize = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ScenePath = "model.gltf"
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, gpu.ErrConfiguration) {
				t.Errorf("got %v, want a configuration error", err)
			}
		})
	}
}

func TestZeroFenceTimeoutWaitsForever(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScenePath = "model.gltf"
	cfg.FenceTimeout = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero timeout rejected: %v", err)
	}
	if got := cfg.waitTimeout(); got != common.NoTimeout {
		t.Errorf("wait timeout = %d, want no timeout", got)
	}

	cfg.FenceTimeout = 2 * time.Second
	if got := cfg.waitTimeout(); got != 2*time.Second {
		t.Errorf("wait timeout = %s, want 2s", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SCENEVIEWER_SHADER_DIR", "/opt/shaders")
	t.Setenv("SCENEVIEWER_SHADER_PROFILE", "release")
	t.Setenv("SCENEVIEWER_VALIDATION", "false")
	t.Setenv("SCENEVIEWER_WIDTH", "640")
	t.Setenv("SCENEVIEWER_HEIGHT", "480")
	t.Setenv("SCENEVIEWER_FENCE_TIMEOUT", "250ms")
	t.Setenv("SCENEVIEWER_PIPELINE_CACHE", "")

	cfg, err := DefaultConfig().FromEnv()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ShaderDir != "/opt/shaders" || cfg.ShaderProfile != "release" {
		t.Errorf("shader location = %s/%s", cfg.ShaderDir, cfg.ShaderProfile)
	}
	if cfg.Validation {
		t.Error("validation still enabled")
	}
	if cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("size = %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FenceTimeout != 250*time.Millisecond {
		t.Errorf("fence timeout = %s", cfg.FenceTimeout)
	}
}

func TestConfigFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("SCENEVIEWER_WIDTH", "wide")

	if _, err := DefaultConfig().FromEnv(); !errors.Is(err, gpu.ErrConfiguration) {
		t.Fatalf("got %v, want a configuration error", err)
	}
}
