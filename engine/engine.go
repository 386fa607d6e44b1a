package engine

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/smallworld/engine/core"
	"golang.org/x/exp/slices"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const metricsReportSeconds = 5.0

// Window is the part of the platform the frame loop watches.
type Window interface {
	ShouldClose() bool
}

// Engine runs the frame loop. Each frame runs every registered updatable,
// stage by stage, in registration order within a stage.
type Engine struct {
	currentStage Stage
	isRunning    atomic.Bool
	window       Window

	updatables map[core.UpdateStage][]core.Updatable

	clock      *core.Clock
	metrics    *core.Metrics
	lastTime   float64
	lastReport float64
}

func New(window Window) *Engine {
	return &Engine{
		currentStage: EngineStageUninitialized,
		window:       window,
		updatables:   make(map[core.UpdateStage][]core.Updatable),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
	}
}

// Register adds u to stage. Registering the same updatable twice in a stage
// runs it once.
func (e *Engine) Register(u core.Updatable, stage core.UpdateStage) {
	if slices.Contains(e.updatables[stage], u) {
		return
	}
	e.updatables[stage] = append(e.updatables[stage], u)
}

// Deregister removes u from every stage.
func (e *Engine) Deregister(u core.Updatable) {
	for stage, list := range e.updatables {
		e.updatables[stage] = slices.DeleteFunc(list, func(other core.Updatable) bool {
			return other == u
		})
	}
}

// RunFrame runs one frame and stops at the first failing updatable.
func (e *Engine) RunFrame() error {
	for _, stage := range core.UpdateStages() {
		// Updatables may deregister themselves mid-frame.
		for _, u := range slices.Clone(e.updatables[stage]) {
			if err := u.Update(); err != nil {
				return errors.Wrapf(err, "%s stage", stage)
			}
		}
	}
	return nil
}

// Run loops until the window asks to close, Stop is called or a frame fails.
func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	defer func() {
		e.currentStage = EngineStageShuttingDown
	}()

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	e.lastReport = e.lastTime

	for e.isRunning.Load() && !e.window.ShouldClose() {
		if err := e.RunFrame(); err != nil {
			e.isRunning.Store(false)
			return err
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		e.metrics.Update(currentTime - e.lastTime)
		e.lastTime = currentTime

		if currentTime-e.lastReport >= metricsReportSeconds {
			fps, frameTime := e.metrics.Frame()
			core.LogDebug("%.0f fps, %.2f ms average frame time.", fps, frameTime)
			e.lastReport = currentTime
		}
	}
	return nil
}

// Stop asks Run to return after the current frame. It is safe to call from
// another goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) CurrentStage() Stage {
	return e.currentStage
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}
