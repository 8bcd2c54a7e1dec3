// Package viewer drives a loaded scene onto a presentation surface: it
// builds the device, uploads geometry once, and runs the frame loop until
// asked to stop.
package viewer

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gobuffalo/envy"
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/sceneviewer/gpu"
)

// DefaultScene selects the scene the document marks as its default.
const DefaultScene = -1

// Config is everything the viewer needs besides the window it draws into.
type Config struct {
	ScenePath string
	// Scene is an index into the document's scenes, or DefaultScene.
	Scene int

	Title  string
	Width  int
	Height int

	// Shaders are loaded from ShaderDir/ShaderProfile/shaders.
	ShaderDir     string
	ShaderProfile string

	Validation bool
	// FenceTimeout bounds every wait on the device. Zero waits forever.
	FenceTimeout time.Duration
	// PipelineCachePath is where compiled pipelines persist between runs.
	// Empty disables persistence.
	PipelineCachePath string

	DeviceBlockSize int
	HostBlockSize   int

	Logger logrus.FieldLogger
}

func DefaultConfig() Config {
	return Config{
		Scene:             DefaultScene,
		Title:             "Scene Viewer",
		Width:             1280,
		Height:            720,
		ShaderDir:         "gen",
		ShaderProfile:     Profile,
		Validation:        defaultValidation,
		FenceTimeout:      0,
		PipelineCachePath: "pipeline_cache.bin",
		DeviceBlockSize:   256 << 20,
		HostBlockSize:     64 << 20,
		Logger:            logrus.StandardLogger(),
	}
}

// FromEnv overrides fields from SCENEVIEWER_* environment variables, which
// may also come from a .env file in the working directory.
func (c Config) FromEnv() (Config, error) {
	envy.Reload()

	c.ShaderDir = envy.Get("SCENEVIEWER_SHADER_DIR", c.ShaderDir)
	c.ShaderProfile = envy.Get("SCENEVIEWER_SHADER_PROFILE", c.ShaderProfile)
	c.PipelineCachePath = envy.Get("SCENEVIEWER_PIPELINE_CACHE", c.PipelineCachePath)

	var err error
	if c.Validation, err = envBool("SCENEVIEWER_VALIDATION", c.Validation); err != nil {
		return c, err
	}
	if c.Width, err = envInt("SCENEVIEWER_WIDTH", c.Width); err != nil {
		return c, err
	}
	if c.Height, err = envInt("SCENEVIEWER_HEIGHT", c.Height); err != nil {
		return c, err
	}
	if c.FenceTimeout, err = envDuration("SCENEVIEWER_FENCE_TIMEOUT", c.FenceTimeout); err != nil {
		return c, err
	}
	return c, nil
}

func envBool(key string, fallback bool) (bool, error) {
	value, err := strconv.ParseBool(envy.Get(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback, envError(key, err)
	}
	return value, nil
}

func envInt(key string, fallback int) (int, error) {
	value, err := strconv.Atoi(envy.Get(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback, envError(key, err)
	}
	return value, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, err := time.ParseDuration(envy.Get(key, fallback.String()))
	if err != nil {
		return fallback, envError(key, err)
	}
	return value, nil
}

func envError(key string, err error) error {
	return errors.Mark(errors.Wrapf(err, "environment variable %s", key), gpu.ErrConfiguration)
}

// Validate rejects settings the viewer cannot start with.
func (c Config) Validate() error {
	var problem error
	switch {
	case c.ScenePath == "":
		problem = errors.New("no scene file given")
	case c.Scene < DefaultScene:
		problem = errors.Newf("scene index %d is negative", c.Scene)
	case c.Width <= 0 || c.Height <= 0:
		problem = errors.Newf("window size %dx%d is empty", c.Width, c.Height)
	case c.ShaderProfile == "":
		problem = errors.New("no shader profile given")
	case c.FenceTimeout < 0:
		problem = errors.Newf("fence timeout %s is negative", c.FenceTimeout)
	case c.DeviceBlockSize <= 0 || c.HostBlockSize <= 0:
		problem = errors.New("allocator block sizes must be positive")
	}
	if problem != nil {
		return errors.Mark(problem, gpu.ErrConfiguration)
	}
	return nil
}

// waitTimeout is the timeout handed to device waits.
func (c Config) waitTimeout() time.Duration {
	if c.FenceTimeout == 0 {
		return common.NoTimeout
	}
	return c.FenceTimeout
}

func (c Config) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}
