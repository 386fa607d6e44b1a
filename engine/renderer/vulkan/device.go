package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/core"
)

const portabilitySubsetExtensionName = "VK_KHR_portability_subset"

var (
	ErrNoSuitableDevice       = errors.New("no physical device supports the swapchain extension and all queue roles")
	ErrNoSupportedDepthFormat = errors.New("no supported depth format")
)

type Device struct {
	PhysicalDevice vk.PhysicalDevice
	Handle         vk.Device
	Families       QueueFamilyIndices
	Properties     vk.PhysicalDeviceProperties

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	TransferQueue vk.Queue

	DepthFormat vk.Format
}

type SwapchainSupport struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func enumerateDeviceExtensions(physicalDevice vk.PhysicalDevice) ([]string, error) {
	var count uint32
	if err := checkResult(vk.EnumerateDeviceExtensionProperties(physicalDevice, "", &count, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}
	properties := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if err := checkResult(vk.EnumerateDeviceExtensionProperties(physicalDevice, "", &count, properties), "vkEnumerateDeviceExtensionProperties"); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, count)
	for i := range properties {
		properties[i].Deref()
		names = append(names, FixedString(properties[i].ExtensionName[:]))
	}
	return names, nil
}

func hasExtension(extensions []string, name string) bool {
	for _, e := range extensions {
		if e == name {
			return true
		}
	}
	return false
}

func queueFamilyProperties(physicalDevice vk.PhysicalDevice) []vk.QueueFamilyProperties {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &count, families)
	for i := range families {
		families[i].Deref()
	}
	return families
}

// SelectPhysicalDevice returns the first device, in enumeration order, that
// exposes the swapchain extension and a complete set of queue families for
// surface.
func SelectPhysicalDevice(instance vk.Instance, surface vk.Surface) (vk.PhysicalDevice, QueueFamilyIndices, error) {
	var count uint32
	if err := checkResult(vk.EnumeratePhysicalDevices(instance, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, QueueFamilyIndices{}, err
	}
	if count == 0 {
		return nil, QueueFamilyIndices{}, errors.Wrap(ErrNoSuitableDevice, "no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, count)
	if err := checkResult(vk.EnumeratePhysicalDevices(instance, &count, physicalDevices), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, QueueFamilyIndices{}, err
	}

	for _, physicalDevice := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physicalDevice, &properties)
		properties.Deref()
		name := FixedString(properties.DeviceName[:])

		extensions, err := enumerateDeviceExtensions(physicalDevice)
		if err != nil {
			return nil, QueueFamilyIndices{}, err
		}
		if !hasExtension(extensions, vk.KhrSwapchainExtensionName) {
			core.LogInfo("device '%s' lacks %s, skipping", name, vk.KhrSwapchainExtensionName)
			continue
		}

		indices := FindQueueFamilies(queueFamilyProperties(physicalDevice), func(index uint32) bool {
			var supported vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(physicalDevice, index, surface, &supported)
			return supported == vk.True
		})
		if !indices.Complete() {
			core.LogInfo("device '%s' has no complete queue family assignment, skipping", name)
			continue
		}

		core.LogInfo("Selected device: '%s'.", name)
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version.Major(vk.Version(properties.ApiVersion)),
			vk.Version.Minor(vk.Version(properties.ApiVersion)),
			vk.Version.Patch(vk.Version(properties.ApiVersion)),
		)
		core.LogDebug("Graphics Family Index: %d", indices.Graphics)
		core.LogDebug("Present Family Index:  %d", indices.Present)
		core.LogDebug("Transfer Family Index: %d", indices.Transfer)
		return physicalDevice, indices, nil
	}

	return nil, QueueFamilyIndices{}, ErrNoSuitableDevice
}

// NewDevice creates the logical device with one queue per distinct family
// and fetches the graphics, present and transfer queues.
func NewDevice(physicalDevice vk.PhysicalDevice, families QueueFamilyIndices) (*Device, error) {
	core.LogInfo("Creating logical device...")

	unique := families.Unique()
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(unique))
	for i, index := range unique {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensions, err := enumerateDeviceExtensions(physicalDevice)
	if err != nil {
		return nil, err
	}
	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if hasExtension(extensions, portabilitySubsetExtensionName) {
		core.LogInfo("Adding required extension '%s'.", portabilitySubsetExtensionName)
		extensionNames = append(extensionNames, portabilitySubsetExtensionName)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var handle vk.Device
	if err := checkResult(vk.CreateDevice(physicalDevice, &deviceCreateInfo, nil, &handle), "vkCreateDevice"); err != nil {
		return nil, err
	}
	core.LogInfo("Logical device created.")

	d := &Device{
		PhysicalDevice: physicalDevice,
		Handle:         handle,
		Families:       families,
	}
	vk.GetPhysicalDeviceProperties(physicalDevice, &d.Properties)
	d.Properties.Deref()

	vk.GetDeviceQueue(handle, families.Graphics, 0, &d.GraphicsQueue)
	vk.GetDeviceQueue(handle, families.Present, 0, &d.PresentQueue)
	vk.GetDeviceQueue(handle, families.Transfer, 0, &d.TransferQueue)
	core.LogInfo("Queues obtained.")

	depthFormat, err := ChooseDepthFormat(func(format vk.Format) vk.FormatProperties {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(physicalDevice, format, &properties)
		properties.Deref()
		return properties
	})
	if err != nil {
		vk.DestroyDevice(handle, nil)
		return nil, err
	}
	d.DepthFormat = depthFormat

	return d, nil
}

func (d *Device) WaitIdle() error {
	return checkResult(vk.DeviceWaitIdle(d.Handle), "vkDeviceWaitIdle")
}

func (d *Device) Destroy() {
	d.GraphicsQueue = nil
	d.PresentQueue = nil
	d.TransferQueue = nil

	core.LogInfo("Destroying logical device...")
	if d.Handle != nil {
		vk.DestroyDevice(d.Handle, nil)
		d.Handle = nil
	}
	// Physical devices are not destroyed.
	d.PhysicalDevice = nil
}

// QuerySwapchainSupport reads the surface capabilities, formats and present
// modes the device offers for surface.
func QuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (SwapchainSupport, error) {
	var support SwapchainSupport

	if err := checkResult(vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &support.Capabilities), "vkGetPhysicalDeviceSurfaceCapabilitiesKHR"); err != nil {
		return support, err
	}
	support.Capabilities.Deref()
	support.Capabilities.CurrentExtent.Deref()
	support.Capabilities.MinImageExtent.Deref()
	support.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := checkResult(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return support, err
	}
	if formatCount > 0 {
		support.Formats = make([]vk.SurfaceFormat, formatCount)
		if err := checkResult(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, support.Formats), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
			return support, err
		}
		for i := range support.Formats {
			support.Formats[i].Deref()
		}
	}

	var presentModeCount uint32
	if err := checkResult(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, nil), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return support, err
	}
	if presentModeCount > 0 {
		support.PresentModes = make([]vk.PresentMode, presentModeCount)
		if err := checkResult(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, support.PresentModes), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
			return support, err
		}
	}

	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return support, errors.New("required swapchain support not present")
	}
	return support, nil
}

var depthFormatCandidates = []vk.Format{
	vk.FormatD32Sfloat,
	vk.FormatD32SfloatS8Uint,
	vk.FormatD24UnormS8Uint,
}

// ChooseDepthFormat returns the first candidate usable as an optimally tiled
// depth/stencil attachment.
func ChooseDepthFormat(formatProperties func(vk.Format) vk.FormatProperties) (vk.Format, error) {
	required := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range depthFormatCandidates {
		properties := formatProperties(candidate)
		if properties.OptimalTilingFeatures&required == required {
			return candidate, nil
		}
	}
	return vk.FormatUndefined, ErrNoSupportedDepthFormat
}
