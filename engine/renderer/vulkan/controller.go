package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/core"
	"golang.org/x/exp/slices"
)

type ControllerState int

const (
	StateUninitialized ControllerState = iota
	StateInstanceCreated
	StateDeviceReady
	StateFrameReady
	StateAwaitingRecreate
	StateStopped
)

var controllerStateNames = map[ControllerState]string{
	StateUninitialized:    "Uninitialized",
	StateInstanceCreated:  "InstanceCreated",
	StateDeviceReady:      "DeviceReady",
	StateFrameReady:       "FrameReady",
	StateAwaitingRecreate: "AwaitingRecreate",
	StateStopped:          "Stopped",
}

func (s ControllerState) String() string {
	if name, ok := controllerStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

var controllerTransitions = map[ControllerState][]ControllerState{
	StateUninitialized:    {StateInstanceCreated, StateStopped},
	StateInstanceCreated:  {StateDeviceReady, StateStopped},
	StateDeviceReady:      {StateFrameReady, StateStopped},
	StateFrameReady:       {StateAwaitingRecreate, StateStopped},
	StateAwaitingRecreate: {StateFrameReady, StateStopped},
}

var ErrControllerNotStarted = errors.New("controller has not been started")

var renderPassClearColor = [4]float32{0, 0, 0, 1}

// Window is what the controller needs from the platform layer.
type Window interface {
	RequiredInstanceExtensions() []string
	InstanceProcAddr() unsafe.Pointer
	CreateSurface(instance vk.Instance) (vk.Surface, error)
	// FramebufferSize is the drawable size in pixels.
	FramebufferSize() (width, height uint32)
	// IsResized reports a size change since the previous frame.
	IsResized() bool
}

type ControllerConfig struct {
	ApplicationName  string
	EnableValidation bool
}

// Controller owns the instance, device and swapchain and drives the render
// stages once per frame from the Render update stage.
type Controller struct {
	config ControllerConfig
	window Window
	loop   core.UpdateLoop
	// Names of changed assets, drained every frame.
	changes <-chan string

	state      ControllerState
	registered bool

	instance    *Instance
	surface     vk.Surface
	device      *Device
	driver      Driver
	resources   *ResourceManager
	commandPool vk.CommandPool
	frames      frameLifecycle
	frame       *frameResources

	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore
	// Created with the others but not waited on or signalled yet.
	screenRender vk.Semaphore

	stages []RenderStage
	stale  bool
}

func NewController(config ControllerConfig, window Window, loop core.UpdateLoop) *Controller {
	c := &Controller{
		config: config,
		window: window,
		loop:   loop,
		state:  StateUninitialized,
	}
	c.frames = deviceFrames{c: c}
	return c
}

// WatchAssets makes the controller offer every name received on changes to
// the stages implementing Reloader.
func (c *Controller) WatchAssets(changes <-chan string) {
	c.changes = changes
}

func (c *Controller) State() ControllerState {
	return c.state
}

// Resources is nil until Start has created the device.
func (c *Controller) Resources() *ResourceManager {
	return c.resources
}

func (c *Controller) transition(to ControllerState) error {
	if !slices.Contains(controllerTransitions[c.state], to) {
		return errors.Wrapf(core.ErrInvalidState, "controller %s -> %s", c.state, to)
	}
	core.LogDebug("Renderer state %s -> %s", c.state, to)
	c.state = to
	return nil
}

func (c *Controller) deviceHandle() vk.Device {
	if c.device == nil {
		return nil
	}
	return c.device.Handle
}

// Initialise creates the instance and, when validation is on, the debug
// report callback.
func (c *Controller) Initialise() error {
	if c.state != StateUninitialized {
		return errors.Wrapf(core.ErrInvalidState, "Initialise called in state %s", c.state)
	}

	instance, err := NewInstance(c.window.InstanceProcAddr(), c.config.ApplicationName, c.window.RequiredInstanceExtensions(), c.config.EnableValidation)
	if err != nil {
		return err
	}
	c.instance = instance
	return c.transition(StateInstanceCreated)
}

// Start brings up the device and the first swapchain, initialises the stages
// registered so far and hooks the controller into the update loop. On error
// Stop releases whatever was created.
func (c *Controller) Start() error {
	if c.state != StateInstanceCreated {
		return errors.Wrapf(core.ErrInvalidState, "Start called in state %s", c.state)
	}

	surface, err := c.window.CreateSurface(c.instance.Handle)
	if err != nil {
		return errors.Wrap(err, "creating window surface")
	}
	c.surface = surface
	core.LogDebug("Vulkan surface created.")

	physicalDevice, families, err := SelectPhysicalDevice(c.instance.Handle, c.surface)
	if err != nil {
		return err
	}
	if c.device, err = NewDevice(physicalDevice, families); err != nil {
		return err
	}
	c.driver = NewDeviceDriver(physicalDevice, c.device.Handle)

	if c.resources, err = NewResourceManager(c.driver, c.device.TransferQueue, families.Transfer); err != nil {
		return err
	}

	c.commandPool, err = c.driver.CreateCommandPool(&vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: families.Graphics,
	})
	if err != nil {
		return err
	}

	if c.frame, err = c.frames.build(vk.NullSwapchain); err != nil {
		return err
	}

	for _, semaphore := range []*vk.Semaphore{&c.imageAvailable, &c.renderFinished, &c.screenRender} {
		semaphoreCreateInfo := vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}
		if err := checkResult(vk.CreateSemaphore(c.device.Handle, &semaphoreCreateInfo, nil, semaphore), "vkCreateSemaphore"); err != nil {
			return err
		}
	}

	if err := c.transition(StateDeviceReady); err != nil {
		return err
	}

	for _, stage := range c.stages {
		if err := stage.Initialise(c.device.Handle, c.resources); err != nil {
			return errors.Wrapf(err, "initialising stage %T", stage)
		}
	}
	c.stale = true

	if c.loop != nil {
		c.loop.Register(c, core.UpdateStageRender)
		c.registered = true
	}

	core.LogInfo("Vulkan renderer started.")
	return c.transition(StateFrameReady)
}

// CreateStage appends stage to the frame. Before Start the stage is only
// recorded and is initialised by Start, afterwards it is initialised
// immediately. Either way the command buffers are re-recorded next frame.
func (c *Controller) CreateStage(stage RenderStage) (RenderStage, error) {
	if c.state == StateStopped {
		return nil, errors.Wrap(core.ErrInvalidState, "cannot add a stage to a stopped renderer")
	}

	if c.device != nil {
		if err := stage.Initialise(c.device.Handle, c.resources); err != nil {
			return nil, errors.Wrapf(err, "initialising stage %T", stage)
		}
	}

	c.stages = append(c.stages, stage)
	c.stale = true
	return stage, nil
}

// AddStage is CreateStage keeping the concrete stage type.
func AddStage[T RenderStage](c *Controller, stage T) (T, error) {
	if _, err := c.CreateStage(stage); err != nil {
		var zero T
		return zero, err
	}
	return stage, nil
}

func (c *Controller) requestRecreate() {
	if c.state == StateFrameReady {
		_ = c.transition(StateAwaitingRecreate)
	}
}

// Update renders and presents one frame.
func (c *Controller) Update() error {
	if c.state != StateFrameReady && c.state != StateAwaitingRecreate {
		return errors.Wrapf(ErrControllerNotStarted, "state %s", c.state)
	}

	if c.window.IsResized() {
		c.requestRecreate()
	}

	c.pollReloads()

	if c.state == StateAwaitingRecreate {
		if err := c.recreateSwapchain(); err != nil {
			if errors.Is(err, core.ErrSwapchainBooting) {
				return nil
			}
			return err
		}
	}

	if c.stale {
		if err := c.recordCommandBuffers(); err != nil {
			return err
		}
	}

	for _, stage := range c.stages {
		if err := stage.Update(); err != nil {
			return errors.Wrapf(err, "updating stage %T", stage)
		}
	}

	index, err := c.frame.swapchain.AcquireNextImage(c.device.Handle, c.imageAvailable)
	switch {
	case errors.Is(err, ErrSwapchainSuboptimal):
		c.requestRecreate()
	case errors.Is(err, ErrSwapchainOutOfDate):
		c.requestRecreate()
		return nil
	case err != nil:
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{c.imageAvailable},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{c.frame.commandBuffers[index].Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{c.renderFinished},
	}
	if err := c.resources.locks.SafeQueueCall(c.device.Families.Graphics, func() error {
		return checkResult(vk.QueueSubmit(c.device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence), "vkQueueSubmit")
	}); err != nil {
		return err
	}
	c.frame.commandBuffers[index].UpdateSubmitted()

	err = c.resources.locks.SafeQueueCall(c.device.Families.Present, func() error {
		return c.frame.swapchain.Present(c.device.PresentQueue, c.renderFinished, index)
	})
	if errors.Is(err, ErrSwapchainOutOfDate) {
		c.requestRecreate()
		return nil
	}
	return err
}

func (c *Controller) recreateSwapchain() error {
	width, height := c.window.FramebufferSize()
	if width == 0 || height == 0 {
		return core.ErrSwapchainBooting
	}

	if err := c.frames.waitIdle(); err != nil {
		return err
	}

	// The old swapchain is handed to the new one and only destroyed once the
	// replacement exists.
	old := c.frame
	frame, err := c.frames.build(old.swapchain.Handle)
	if err != nil {
		return errors.Wrap(err, "recreating swapchain")
	}
	c.frames.destroy(old)
	c.frame = frame
	c.stale = true

	core.LogInfo("Swapchain recreated at %dx%d.", frame.swapchain.Extent.Width, frame.swapchain.Extent.Height)
	return c.transition(StateFrameReady)
}

func (c *Controller) recordCommandBuffers() error {
	if err := c.frames.waitIdle(); err != nil {
		return err
	}

	extent := c.frame.swapchain.Extent
	for i, cb := range c.frame.commandBuffers {
		if err := cb.Begin(c.driver, false, false, true); err != nil {
			return err
		}
		c.frame.renderPass.Begin(cb, c.frame.framebuffers[i].Handle, extent)
		if err := c.bindStages(cb.Handle, c.frame.renderPass.Handle, extent); err != nil {
			return err
		}
		c.frame.renderPass.End(cb)
		if err := cb.End(c.driver); err != nil {
			return err
		}
	}

	c.stale = false
	return nil
}

func (c *Controller) bindStages(commandBuffer vk.CommandBuffer, renderPass vk.RenderPass, extent vk.Extent2D) error {
	for _, stage := range c.stages {
		if err := stage.Bind(c.deviceHandle(), renderPass, commandBuffer, extent); err != nil {
			return errors.Wrapf(err, "binding stage %T", stage)
		}
	}
	return nil
}

// pollReloads drains pending asset changes without blocking. A failed reload
// leaves the stage on its previous assets.
func (c *Controller) pollReloads() {
	for c.changes != nil {
		select {
		case name, ok := <-c.changes:
			if !ok {
				c.changes = nil
				return
			}
			c.reload(name)
		default:
			return
		}
	}
}

func (c *Controller) reload(name string) {
	for _, stage := range c.stages {
		r, ok := stage.(Reloader)
		if !ok {
			continue
		}
		reloaded, err := r.Reload(c.deviceHandle(), name)
		if err != nil {
			core.LogError("Reloading %s for stage %T failed: %s", name, stage, err)
			continue
		}
		if reloaded {
			core.LogInfo("Reloaded %s for stage %T.", name, stage)
			c.stale = true
		}
	}
}

// Stop tears everything down in reverse order of creation. It is safe to call
// after a failed Start and more than once.
func (c *Controller) Stop() error {
	if c.state == StateStopped {
		return nil
	}

	if c.registered {
		c.loop.Deregister(c)
		c.registered = false
	}

	if c.device != nil {
		if err := c.device.WaitIdle(); err != nil {
			core.LogError("Waiting for the device before shutdown failed: %s", err)
		}

		for _, stage := range c.stages {
			if r, ok := stage.(Releaser); ok {
				r.Release(c.device.Handle)
			}
		}

		if c.frame != nil {
			c.frames.destroy(c.frame)
			c.frame = nil
		}

		for _, semaphore := range []*vk.Semaphore{&c.imageAvailable, &c.renderFinished, &c.screenRender} {
			if *semaphore != vk.NullSemaphore {
				vk.DestroySemaphore(c.device.Handle, *semaphore, nil)
				*semaphore = vk.NullSemaphore
			}
		}

		if c.commandPool != vk.NullCommandPool {
			c.driver.DestroyCommandPool(c.commandPool)
			c.commandPool = vk.NullCommandPool
		}

		if c.resources != nil {
			c.resources.Destroy()
			c.resources = nil
		}

		c.device.Destroy()
		c.device = nil
	}

	if c.surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(c.instance.Handle, c.surface, nil)
		c.surface = vk.NullSurface
	}

	if c.instance != nil {
		c.instance.Destroy()
		c.instance = nil
	}

	core.LogInfo("Vulkan renderer stopped.")
	return c.transition(StateStopped)
}
