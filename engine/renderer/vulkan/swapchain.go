package vulkan

import (
	"math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/smallworld/engine/core"
	"golang.org/x/exp/slices"
)

var (
	// ErrSwapchainOutOfDate is returned by AcquireNextImage and Present when
	// the surface no longer matches the swapchain.
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	// ErrSwapchainSuboptimal still matches ErrSwapchainOutOfDate. The image
	// was acquired or presented and the swapchain should be rebuilt.
	ErrSwapchainSuboptimal = errors.Wrap(ErrSwapchainOutOfDate, "suboptimal")
)

var preferredSurfaceFormat = vk.SurfaceFormat{
	Format:     vk.FormatB8g8r8a8Unorm,
	ColorSpace: vk.ColorSpaceSrgbNonlinear,
}

type Swapchain struct {
	Handle vk.Swapchain
	Format vk.SurfaceFormat
	Extent vk.Extent2D
	Images []vk.Image
	Views  []vk.ImageView
}

// ChooseSurfaceFormat prefers BGRA8 unorm with the sRGB nonlinear color
// space. A lone undefined entry means the surface has no preference.
func ChooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	if len(formats) == 0 || (len(formats) == 1 && formats[0].Format == vk.FormatUndefined) {
		return preferredSurfaceFormat
	}
	for _, format := range formats {
		if format.Format == preferredSurfaceFormat.Format && format.ColorSpace == preferredSurfaceFormat.ColorSpace {
			return format
		}
	}
	return formats[0]
}

// ChoosePresentMode picks mailbox when offered and falls back to FIFO, which
// every implementation supports.
func ChoosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	if slices.Contains(modes, vk.PresentModeMailbox) {
		return vk.PresentModeMailbox
	}
	return vk.PresentModeFifo
}

// ChooseExtent uses the surface's current extent when it is defined and
// otherwise clamps the window size to the supported range.
func ChooseExtent(capabilities vk.SurfaceCapabilities, windowWidth, windowHeight uint32) vk.Extent2D {
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		return capabilities.CurrentExtent
	}
	return vk.Extent2D{
		Width:  Clamp(windowWidth, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: Clamp(windowHeight, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

// ChooseImageCount asks for one image more than the minimum, capped by the
// maximum when the surface has one.
func ChooseImageCount(capabilities vk.SurfaceCapabilities) uint32 {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}

// NewImageView creates a 2D view over mip 0, layer 0 of image.
func NewImageView(device vk.Device, image vk.Image, format vk.Format, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var view vk.ImageView
	if err := checkResult(vk.CreateImageView(device, &viewInfo, nil, &view), "vkCreateImageView"); err != nil {
		return vk.NullImageView, err
	}
	return view, nil
}

// NewSwapchain builds a swapchain for surface. old, when not null, is handed
// to the driver for reuse and stays valid until the caller destroys it.
func NewSwapchain(device *Device, surface vk.Surface, windowWidth, windowHeight uint32, old vk.Swapchain) (*Swapchain, error) {
	support, err := QuerySwapchainSupport(device.PhysicalDevice, surface)
	if err != nil {
		return nil, err
	}

	format := ChooseSurfaceFormat(support.Formats)
	extent := ChooseExtent(support.Capabilities, windowWidth, windowHeight)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, errors.Newf("cannot create a %dx%d swapchain", extent.Width, extent.Height)
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    ChooseImageCount(support.Capabilities),
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      ChoosePresentMode(support.PresentModes),
		Clipped:          vk.True,
		OldSwapchain:     old,
	}

	// Setup the queue family indices
	families := device.Families.Unique()
	if len(families) > 1 {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = uint32(len(families))
		swapchainCreateInfo.PQueueFamilyIndices = families
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	sc := &Swapchain{
		Format: format,
		Extent: extent,
	}
	if err := checkResult(vk.CreateSwapchain(device.Handle, &swapchainCreateInfo, nil, &sc.Handle), "vkCreateSwapchainKHR"); err != nil {
		return nil, err
	}

	var imageCount uint32
	if err := checkResult(vk.GetSwapchainImages(device.Handle, sc.Handle, &imageCount, nil), "vkGetSwapchainImagesKHR"); err != nil {
		sc.Destroy(device.Handle)
		return nil, err
	}
	sc.Images = make([]vk.Image, imageCount)
	if err := checkResult(vk.GetSwapchainImages(device.Handle, sc.Handle, &imageCount, sc.Images), "vkGetSwapchainImagesKHR"); err != nil {
		sc.Destroy(device.Handle)
		return nil, err
	}

	for _, image := range sc.Images {
		view, err := NewImageView(device.Handle, image, format.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			sc.Destroy(device.Handle)
			return nil, err
		}
		sc.Views = append(sc.Views, view)
	}

	core.LogInfo("Swapchain created: %dx%d, %d images.", extent.Width, extent.Height, imageCount)
	return sc, nil
}

// AcquireNextImage blocks until an image is available and signals
// imageAvailable once it can be rendered to.
func (sc *Swapchain) AcquireNextImage(device vk.Device, imageAvailable vk.Semaphore) (uint32, error) {
	var index uint32
	result := vk.AcquireNextImage(device, sc.Handle, math.MaxUint64, imageAvailable, vk.NullFence, &index)
	switch result {
	case vk.Success:
		return index, nil
	case vk.Suboptimal:
		return index, ErrSwapchainSuboptimal
	case vk.ErrorOutOfDate:
		return 0, ErrSwapchainOutOfDate
	default:
		return 0, checkResult(result, "vkAcquireNextImageKHR")
	}
}

// Present queues image for display once renderFinished is signalled.
func (sc *Swapchain) Present(presentQueue vk.Queue, renderFinished vk.Semaphore, index uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.Handle},
		PImageIndices:      []uint32{index},
	}

	switch result := vk.QueuePresent(presentQueue, &presentInfo); result {
	case vk.Suboptimal:
		return ErrSwapchainSuboptimal
	case vk.ErrorOutOfDate:
		return ErrSwapchainOutOfDate
	default:
		return checkResult(result, "vkQueuePresentKHR")
	}
}

func (sc *Swapchain) Destroy(device vk.Device) {
	// Only the views are ours, the images belong to the swapchain.
	for _, view := range sc.Views {
		vk.DestroyImageView(device, view, nil)
	}
	sc.Views = nil
	sc.Images = nil

	if sc.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(device, sc.Handle, nil)
		sc.Handle = vk.NullSwapchain
	}
}
