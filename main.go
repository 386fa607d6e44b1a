/*
A small world: a textured quad spinning over a cleared background, drawn by
the Vulkan renderer core in the engine package.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/smallworld/engine"
	"github.com/spaghettifunk/smallworld/engine/assets"
	"github.com/spaghettifunk/smallworld/engine/config"
	"github.com/spaghettifunk/smallworld/engine/core"
	"github.com/spaghettifunk/smallworld/engine/platform"
	"github.com/spaghettifunk/smallworld/engine/renderer/stages"
	"github.com/spaghettifunk/smallworld/engine/renderer/vulkan"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		core.LogFatal("%+v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	core.SetLogLevel(cfg.LogLevel)

	am, err := assets.NewManager(cfg.AssetsDir)
	if err != nil {
		return err
	}

	p := platform.New()
	if err := p.Startup(cfg.Name, cfg.Window.StartPosX, cfg.Window.StartPosY, cfg.Window.StartWidth, cfg.Window.StartHeight); err != nil {
		return err
	}
	defer p.Shutdown()

	e := engine.New(p)
	e.Register(p, core.UpdateStagePreUpdate)

	controller := vulkan.NewController(vulkan.ControllerConfig{
		ApplicationName:  cfg.Name,
		EnableValidation: cfg.Renderer.EnableValidation,
	}, p, e)
	defer func() {
		if err := controller.Stop(); err != nil {
			core.LogError("Stopping renderer: %s", err)
		}
	}()

	if err := controller.Initialise(); err != nil {
		return errors.Wrap(err, "initialising renderer")
	}
	if _, err := vulkan.AddStage(controller, stages.NewClearStage(cfg.Renderer.ClearColor)); err != nil {
		return err
	}
	if _, err := vulkan.AddStage(controller, stages.NewMeshStage(stages.MeshConfig{
		Mesh:           stages.QuadMesh(),
		VertexShader:   "mesh.vert",
		FragmentShader: "mesh.frag",
		Texture:        "checker.png",
	}, am)); err != nil {
		return err
	}
	if err := controller.Start(); err != nil {
		return errors.Wrap(err, "starting renderer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.HotReload {
		if err := am.Watch(ctx); err != nil {
			return err
		}
		defer am.Close()
		controller.WatchAssets(am.Changes())
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		select {
		case <-sigCh:
			core.LogInfo("Signal received, shutting down.")
			e.Stop()
		case <-ctx.Done():
		}
	}()

	core.LogInfo("%s running.", cfg.Name)
	return e.Run()
}
