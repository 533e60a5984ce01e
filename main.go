//go:generate glslc shaders/shader.vert -o shaders/vert.spv
//go:generate glslc shaders/shader.frag -o shaders/frag.spv

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/profile"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkframe/internal/config"
	"github.com/hellhand/vkframe/internal/device"
	"github.com/hellhand/vkframe/internal/logx"
	"github.com/hellhand/vkframe/internal/model"
	"github.com/hellhand/vkframe/internal/pipeline"
	"github.com/hellhand/vkframe/internal/renderer"
	"github.com/hellhand/vkframe/internal/swapchain"
	"github.com/hellhand/vkframe/internal/window"
)

func init() {
	// GLFW/Vulkan require the main thread.
	runtime.LockOSThread()
}

var triangle = []model.Vertex{
	{Position: mgl32.Vec2{0.0, -0.5}, Color: mgl32.Vec3{1, 0, 0}},
	{Position: mgl32.Vec2{0.5, 0.5}, Color: mgl32.Vec3{0, 1, 0}},
	{Position: mgl32.Vec2{-0.5, 0.5}, Color: mgl32.Vec3{0, 0, 1}},
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stderr))
}

// realMain returns the process exit code: 2 for bad flags or config, 1 when
// rendering fails. Deferred cleanup, the CPU profile included, runs before
// it returns.
func realMain(args []string, stderr io.Writer) int {
	flags := flag.NewFlagSet("vkframe", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to a TOML config file")
	logLevel := flags.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	cpuProfile := flags.String("cpuprofile", "", "write a CPU profile into this directory")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *cpuProfile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*cpuProfile), profile.Quiet, profile.NoShutdownHook).Stop()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log, err := logx.New(cfg.LogLevel, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("vkframe exited", "err", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	presentModes, err := cfg.PresentModes()
	if err != nil {
		return err
	}

	win, err := window.New(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title)
	if err != nil {
		return err
	}
	defer win.Destroy()

	dev, err := device.New(win, device.Config{
		AppName:    cfg.Window.Title,
		Validation: cfg.Validation,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("init vulkan: %w", err)
	}
	defer dev.Destroy()
	log.Debug("device ready", "validation", cfg.Validation, "present_mode", cfg.PresentMode)

	layout, err := pipeline.NewLayout(dev)
	if err != nil {
		return err
	}
	defer dev.DestroyPipelineLayout(layout)

	shaders, err := pipeline.NewShaderCache(pipeline.DefaultShaderCacheSize)
	if err != nil {
		return err
	}

	mesh, err := model.New(dev, triangle)
	if err != nil {
		return err
	}
	defer mesh.Destroy()

	factory := func(renderPass vulkan.RenderPass) (renderer.Pipeline, error) {
		pc := pipeline.DefaultConfig()
		pc.Layout = layout
		pc.RenderPass = renderPass
		p, err := pipeline.New(dev, shaders, cfg.Shaders.Vertex, cfg.Shaders.Fragment, pc)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	r, err := renderer.New(dev, win, mesh, factory, renderer.Options{
		Chain: swapchain.Config{
			PresentModes: presentModes,
			FenceTimeout: cfg.FenceTimeout.Duration,
		},
		ClearColor:    cfg.ClearColor,
		Logger:        log,
		StatsInterval: cfg.StatsInterval.Duration,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	log.Info("entering main loop")
	if err := r.Run(ctx); err != nil {
		return err
	}
	stats := r.Stats()
	log.Info("main loop finished", "frames", stats.Frames, "rebuilds", stats.Rebuilds, "skipped", stats.Skipped)
	return nil
}
