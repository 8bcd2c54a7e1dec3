// Command sceneviewer opens a window and draws a glTF or Wavefront scene
// into it until the window is closed or Escape is pressed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/sceneviewer/viewer"
	"golang.org/x/sync/errgroup"
)

func init() {
	// SDL windows and events belong to the thread that created them.
	runtime.LockOSThread()
}

func main() {
	logger := logrus.New()
	if err := run(logger); err != nil {
		logger.WithError(err).Error("scene viewer failed")
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		os.Exit(1)
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := viewer.DefaultConfig().FromEnv()
	if err != nil {
		return err
	}

	flag.IntVar(&cfg.Scene, "scene", cfg.Scene, "index of the scene to draw, -1 for the file's default")
	flag.IntVar(&cfg.Width, "width", cfg.Width, "window width")
	flag.IntVar(&cfg.Height, "height", cfg.Height, "window height")
	flag.BoolVar(&cfg.Validation, "validation", cfg.Validation, "enable the validation layer")
	flag.StringVar(&cfg.ShaderDir, "shaders", cfg.ShaderDir, "directory holding compiled shader profiles")
	verbose := flag.Bool("v", false, "log at debug level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] scene.{gltf,glb,obj}\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return errors.New("expected exactly one scene file")
	}
	cfg.ScenePath = flag.Arg(0)

	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	cfg.Logger = logger

	if err := cfg.Validate(); err != nil {
		return err
	}

	w, err := openWindow(cfg.Title, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	defer w.Close()

	events := make(chan viewer.Event, 1)
	done := make(chan error, 1)

	group, _ := errgroup.WithContext(context.Background())
	group.Go(func() error {
		err := viewer.Run(w, cfg, events)
		done <- err
		return err
	})

	pollWindow(events, done)
	return group.Wait()
}

// pollWindow pumps SDL events on the main thread until the render goroutine
// reports that it has finished. A quit request is forwarded once and the
// goroutine is then left to wind down.
func pollWindow(events chan<- viewer.Event, done <-chan error) {
	requested := false
	requestStop := func() {
		if requested {
			return
		}
		requested = true
		select {
		case events <- viewer.EventStop:
		default:
		}
	}

	ticker := time.NewTicker(time.Second / 120)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch e := event.(type) {
				case *sdl.QuitEvent:
					requestStop()
				case *sdl.KeyboardEvent:
					if e.Keysym.Sym == sdl.K_ESCAPE && e.State == sdl.PRESSED {
						requestStop()
					}
				}
			}
		}
	}
}
