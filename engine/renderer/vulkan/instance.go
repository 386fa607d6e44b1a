package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/core"
)

const (
	validationLayerName                = "VK_LAYER_KHRONOS_validation"
	portabilityEnumerationExtName      = "VK_KHR_portability_enumeration"
	physicalDeviceProperties2Ext       = "VK_KHR_get_physical_device_properties2"
	instanceCreateEnumeratePortability = vk.InstanceCreateFlags(0x00000001)
)

type Instance struct {
	Handle     vk.Instance
	Validation bool

	debugCallback vk.DebugReportCallback
}

// InstanceExtensions lists the extensions the instance is created with: the
// window system's own, portability enumeration on darwin and debug report
// when validation is on.
func InstanceExtensions(windowExtensions []string, validation bool, goos string) []string {
	extensions := append([]string{}, windowExtensions...)
	if goos == "darwin" {
		extensions = append(extensions, portabilityEnumerationExtName, physicalDeviceProperties2Ext)
	}
	if validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
	}
	return extensions
}

func enumerateInstanceLayers() ([]string, error) {
	var count uint32
	if err := checkResult(vk.EnumerateInstanceLayerProperties(&count, nil), "vkEnumerateInstanceLayerProperties"); err != nil {
		return nil, err
	}
	layers := make([]vk.LayerProperties, count)
	if count > 0 {
		if err := checkResult(vk.EnumerateInstanceLayerProperties(&count, layers), "vkEnumerateInstanceLayerProperties"); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, count)
	for i := range layers {
		layers[i].Deref()
		names = append(names, FixedString(layers[i].LayerName[:]))
	}
	return names, nil
}

// NewInstance loads the Vulkan entry points through procAddr and creates the
// instance. Validation is requested only when asked for and the layer is
// installed; its absence is logged, not fatal.
func NewInstance(procAddr unsafe.Pointer, appName string, windowExtensions []string, validation bool) (*Instance, error) {
	if procAddr == nil {
		return nil, errors.New("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize vk")
	}

	var layers []string
	if validation {
		core.LogInfo("Validation layers enabled. Enumerating...")
		available, err := enumerateInstanceLayers()
		if err != nil {
			return nil, err
		}
		if hasExtension(available, validationLayerName) {
			layers = append(layers, validationLayerName)
			core.LogInfo("Found %s.", validationLayerName)
		} else {
			core.LogWarn("Validation layer %s is not installed, continuing without it.", validationLayerName)
			validation = false
		}
	}

	extensions := InstanceExtensions(windowExtensions, validation, runtime.GOOS)
	core.LogDebug("Required extensions: %v", extensions)

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("smallworld"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     VulkanSafeStrings(layers),
	}
	if runtime.GOOS == "darwin" {
		createInfo.Flags |= instanceCreateEnumeratePortability
	}

	i := &Instance{Validation: validation}
	if err := checkResult(vk.CreateInstance(&createInfo, nil, &i.Handle), "vkCreateInstance"); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(i.Handle); err != nil {
		vk.DestroyInstance(i.Handle, nil)
		return nil, errors.Wrap(err, "failed to initialize instance entry points")
	}
	core.LogInfo("Vulkan Instance created.")

	if validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		if err := checkResult(vk.CreateDebugReportCallback(i.Handle, &debugCreateInfo, nil, &i.debugCallback), "vkCreateDebugReportCallbackEXT"); err != nil {
			i.Destroy()
			return nil, err
		}
		core.LogDebug("Vulkan debugger created.")
	}

	return i, nil
}

// Destroy removes the debug callback before the instance.
func (i *Instance) Destroy() {
	if i.debugCallback != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(i.Handle, i.debugCallback, nil)
		i.debugCallback = vk.NullDebugReportCallback
	}
	if i.Handle != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(i.Handle, nil)
		i.Handle = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: %s", pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: %s", pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: %s", pMessage)
	default:
		core.LogInfo("%d: %s", flags, pMessage)
	}
	return vk.Bool32(vk.False)
}
