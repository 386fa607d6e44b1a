package platform

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the glfw window. It runs at the PreUpdate stage, where it
// pumps window events and latches whether the framebuffer was resized.
type Platform struct {
	Window *glfw.Window

	resizePending bool
	resized       bool
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "initialising glfw")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return errors.New("glfw reports no Vulkan loader")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		return errors.Wrap(err, "creating window")
	}
	p.Window = window

	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetKeyCallback(keyCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	core.LogDebug("Window %q created at %dx%d.", applicationName, width, height)
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// Update pumps the window events for this frame.
func (p *Platform) Update() error {
	glfw.PollEvents()
	p.latchResize()
	return nil
}

func (p *Platform) latchResize() {
	p.resized = p.resizePending
	p.resizePending = false
}

func (p *Platform) ShouldClose() bool {
	return p.Window == nil || p.Window.ShouldClose()
}

// IsResized reports whether the framebuffer changed size during the last
// event pump.
func (p *Platform) IsResized() bool {
	return p.resized
}

func (p *Platform) FramebufferSize() (uint32, uint32) {
	width, height := p.Window.GetFramebufferSize()
	return uint32(width), uint32(height)
}

func (p *Platform) RequiredInstanceExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	surface, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "creating window surface")
	}
	return vk.SurfaceFromPointer(surface), nil
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	core.LogDebug("Framebuffer resized to %dx%d.", width, height)
	p.resizePending = true
}

func keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.SetShouldClose(true)
	}
}
