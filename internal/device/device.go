// Package device owns the Vulkan instance, surface, logical device, queues
// and command pool, and exposes them through the narrow interfaces the
// swapchain, renderer, model and pipeline packages consume.
package device

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkframe/internal/logx"
	"github.com/hellhand/vkframe/internal/swapchain"
)

var (
	validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
	deviceExtensions = []string{"VK_KHR_swapchain"}
)

// Window is the platform side of surface creation.
type Window interface {
	InstanceProcAddr() unsafe.Pointer
	RequiredInstanceExtensions() []string
	CreateSurface(instance vulkan.Instance) (vulkan.Surface, error)
}

type Config struct {
	AppName    string
	Validation bool
	Logger     *slog.Logger
}

// Context is the device context. Every method must be called from the
// render goroutine.
type Context struct {
	cfg Config
	log *slog.Logger

	instance       vulkan.Instance
	debugCallback  vulkan.DebugReportCallback
	surface        vulkan.Surface
	physicalDevice vulkan.PhysicalDevice
	properties     vulkan.PhysicalDeviceProperties
	device         vulkan.Device
	graphicsQueue  vulkan.Queue
	presentQueue   vulkan.Queue
	families       swapchain.QueueFamilies
	commandPool    vulkan.CommandPool
}

// New brings up Vulkan for the window: instance, optional validation
// layers, surface, the best physical device, a logical device with
// graphics and present queues, and a resettable command pool.
func New(window Window, cfg Config) (*Context, error) {
	c := &Context{cfg: cfg, log: logx.OrNop(cfg.Logger)}
	if err := c.init(window); err != nil {
		c.Destroy()
		return nil, err
	}
	return c, nil
}

func (c *Context) init(window Window) error {
	vulkan.SetGetInstanceProcAddr(window.InstanceProcAddr())
	if err := vulkan.Init(); err != nil {
		return fmt.Errorf("vulkan init: %w", err)
	}
	if err := c.createInstance(window.RequiredInstanceExtensions()); err != nil {
		return err
	}
	if err := vulkan.InitInstance(c.instance); err != nil {
		return fmt.Errorf("vkInitInstance: %w", err)
	}
	if err := c.setupDebugCallback(); err != nil {
		return err
	}
	surface, err := window.CreateSurface(c.instance)
	if err != nil {
		return fmt.Errorf("create window surface: %w", err)
	}
	c.surface = surface
	if err := c.pickPhysicalDevice(); err != nil {
		return err
	}
	if err := c.createLogicalDevice(); err != nil {
		return err
	}
	return c.createCommandPool()
}

func (c *Context) createInstance(extensions []string) error {
	if c.cfg.Validation && !validationLayersSupported() {
		return ErrValidationUnavailable
	}

	name := c.cfg.AppName
	if name == "" {
		name = "vkframe"
	}
	appInfo := vulkan.ApplicationInfo{
		SType:              vulkan.StructureTypeApplicationInfo,
		PApplicationName:   safeString(name),
		ApplicationVersion: vulkan.MakeVersion(0, 1, 0),
		PEngineName:        safeString("vkframe"),
		EngineVersion:      vulkan.MakeVersion(0, 1, 0),
		ApiVersion:         vulkan.MakeVersion(1, 1, 0),
	}

	if c.cfg.Validation {
		extensions = append(extensions, "VK_EXT_debug_report")
	}
	createInfo := vulkan.InstanceCreateInfo{
		SType:                   vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	if c.cfg.Validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = safeStrings(validationLayers)
	}

	if res := vulkan.CreateInstance(&createInfo, nil, &c.instance); res != vulkan.Success {
		return fmt.Errorf("create instance: %w", vulkan.Error(res))
	}
	return nil
}

func validationLayersSupported() bool {
	var count uint32
	if vulkan.EnumerateInstanceLayerProperties(&count, nil) != vulkan.Success {
		return false
	}
	props := make([]vulkan.LayerProperties, count)
	if vulkan.EnumerateInstanceLayerProperties(&count, props) != vulkan.Success {
		return false
	}
	supported := make(map[string]bool)
	for i := range props {
		props[i].Deref()
		supported[vulkan.ToString(props[i].LayerName[:])] = true
	}
	return hasAll(supported, validationLayers)
}

func (c *Context) setupDebugCallback() error {
	if !c.cfg.Validation {
		return nil
	}
	createInfo := vulkan.DebugReportCallbackCreateInfo{
		SType: vulkan.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vulkan.DebugReportFlags(
			vulkan.DebugReportErrorBit |
				vulkan.DebugReportWarningBit |
				vulkan.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vulkan.DebugReportFlags, objectType vulkan.DebugReportObjectType, object uint64, location uint, messageCode int32, layerPrefix string, message string, userData unsafe.Pointer) vulkan.Bool32 {
			c.log.Warn("validation", "layer", layerPrefix, "flags", fmt.Sprintf("0x%x", flags), "code", messageCode, "msg", message)
			return vulkan.False
		},
	}
	if res := vulkan.CreateDebugReportCallback(c.instance, &createInfo, nil, &c.debugCallback); res != vulkan.Success {
		return fmt.Errorf("create debug callback: %w", vulkan.Error(res))
	}
	return nil
}

type candidate struct {
	device   vulkan.PhysicalDevice
	families swapchain.QueueFamilies
	score    int32
}

func (c *Context) pickPhysicalDevice() error {
	var count uint32
	if res := vulkan.EnumeratePhysicalDevices(c.instance, &count, nil); res != vulkan.Success {
		return fmt.Errorf("enumerate physical devices: %w", vulkan.Error(res))
	}
	if count == 0 {
		return ErrNoSuitableGPU
	}
	devices := make([]vulkan.PhysicalDevice, count)
	if res := vulkan.EnumeratePhysicalDevices(c.instance, &count, devices); res != vulkan.Success {
		return fmt.Errorf("enumerate physical devices list: %w", vulkan.Error(res))
	}

	var candidates []candidate
	for _, dev := range devices {
		families, ok := c.findQueueFamilies(dev)
		if !ok || !deviceExtensionsSupported(dev) {
			continue
		}
		support := c.querySwapchainSupport(dev)
		if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
			continue
		}
		var props vulkan.PhysicalDeviceProperties
		vulkan.GetPhysicalDeviceProperties(dev, &props)
		props.Deref()
		candidates = append(candidates, candidate{
			device:   dev,
			families: families,
			score:    scoreDeviceType(props.DeviceType),
		})
	}

	best, ok := pickBest(candidates)
	if !ok {
		return ErrNoSuitableGPU
	}
	c.physicalDevice = best.device
	c.families = best.families
	vulkan.GetPhysicalDeviceProperties(best.device, &c.properties)
	c.properties.Deref()
	c.log.Info("selected GPU", "name", vulkan.ToString(c.properties.DeviceName[:]),
		"graphics_family", best.families.Graphics, "present_family", best.families.Present)
	return nil
}

func scoreDeviceType(t vulkan.PhysicalDeviceType) int32 {
	switch t {
	case vulkan.PhysicalDeviceTypeDiscreteGpu:
		return 1000
	case vulkan.PhysicalDeviceTypeIntegratedGpu:
		return 500
	default:
		return 100
	}
}

// pickBest returns the highest scoring candidate; ties go to the first.
func pickBest(candidates []candidate) (candidate, bool) {
	if len(candidates) == 0 {
		return candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}
	return best, true
}

func deviceExtensionsSupported(device vulkan.PhysicalDevice) bool {
	var count uint32
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vulkan.Success {
		return false
	}
	props := make([]vulkan.ExtensionProperties, count)
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vulkan.Success {
		return false
	}
	supported := make(map[string]bool)
	for i := range props {
		props[i].Deref()
		supported[vulkan.ToString(props[i].ExtensionName[:])] = true
	}
	return hasAll(supported, deviceExtensions)
}

func hasAll(supported map[string]bool, names []string) bool {
	for _, n := range names {
		if !supported[n] {
			return false
		}
	}
	return true
}

type familyInfo struct {
	graphics bool
	present  bool
}

// chooseQueueFamilies prefers one family that does both graphics and
// present, falling back to the first of each.
func chooseQueueFamilies(families []familyInfo) (swapchain.QueueFamilies, bool) {
	graphics, present := -1, -1
	for i, f := range families {
		if f.graphics && f.present {
			return swapchain.QueueFamilies{Graphics: uint32(i), Present: uint32(i)}, true
		}
		if f.graphics && graphics < 0 {
			graphics = i
		}
		if f.present && present < 0 {
			present = i
		}
	}
	if graphics < 0 || present < 0 {
		return swapchain.QueueFamilies{}, false
	}
	return swapchain.QueueFamilies{Graphics: uint32(graphics), Present: uint32(present)}, true
}

func (c *Context) findQueueFamilies(device vulkan.PhysicalDevice) (swapchain.QueueFamilies, bool) {
	var count uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	props := make([]vulkan.QueueFamilyProperties, count)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, props)

	families := make([]familyInfo, len(props))
	for i := range props {
		props[i].Deref()
		families[i].graphics = props[i].QueueFlags&vulkan.QueueFlags(vulkan.QueueGraphicsBit) != 0
		var present vulkan.Bool32
		vulkan.GetPhysicalDeviceSurfaceSupport(device, uint32(i), c.surface, &present)
		families[i].present = present == vulkan.True
	}
	return chooseQueueFamilies(families)
}

func (c *Context) createLogicalDevice() error {
	unique := []uint32{c.families.Graphics}
	if c.families.Present != c.families.Graphics {
		unique = append(unique, c.families.Present)
	}
	queueInfos := make([]vulkan.DeviceQueueCreateInfo, 0, len(unique))
	for _, family := range unique {
		queueInfos = append(queueInfos, vulkan.DeviceQueueCreateInfo{
			SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	createInfo := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		PQueueCreateInfos:       queueInfos,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PEnabledFeatures:        []vulkan.PhysicalDeviceFeatures{{}},
		PpEnabledExtensionNames: safeStrings(deviceExtensions),
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
	}
	if c.cfg.Validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = safeStrings(validationLayers)
	}

	if res := vulkan.CreateDevice(c.physicalDevice, &createInfo, nil, &c.device); res != vulkan.Success {
		return fmt.Errorf("create logical device: %w", vulkan.Error(res))
	}
	vulkan.GetDeviceQueue(c.device, c.families.Graphics, 0, &c.graphicsQueue)
	vulkan.GetDeviceQueue(c.device, c.families.Present, 0, &c.presentQueue)
	return nil
}

func (c *Context) createCommandPool() error {
	poolInfo := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: c.families.Graphics,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateResetCommandBufferBit | vulkan.CommandPoolCreateTransientBit),
	}
	if res := vulkan.CreateCommandPool(c.device, &poolInfo, nil, &c.commandPool); res != vulkan.Success {
		return fmt.Errorf("create command pool: %w", vulkan.Error(res))
	}
	return nil
}

func (c *Context) querySwapchainSupport(device vulkan.PhysicalDevice) swapchain.Support {
	var details swapchain.Support
	vulkan.GetPhysicalDeviceSurfaceCapabilities(device, c.surface, &details.Capabilities)
	details.Capabilities.Deref()
	details.Capabilities.CurrentExtent.Deref()
	details.Capabilities.MinImageExtent.Deref()
	details.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	vulkan.GetPhysicalDeviceSurfaceFormats(device, c.surface, &formatCount, nil)
	if formatCount > 0 {
		details.Formats = make([]vulkan.SurfaceFormat, formatCount)
		vulkan.GetPhysicalDeviceSurfaceFormats(device, c.surface, &formatCount, details.Formats)
		for i := range details.Formats {
			details.Formats[i].Deref()
		}
	}

	var presentCount uint32
	vulkan.GetPhysicalDeviceSurfacePresentModes(device, c.surface, &presentCount, nil)
	if presentCount > 0 {
		details.PresentModes = make([]vulkan.PresentMode, presentCount)
		vulkan.GetPhysicalDeviceSurfacePresentModes(device, c.surface, &presentCount, details.PresentModes)
	}
	return details
}

func (c *Context) Device() vulkan.Device                       { return c.device }
func (c *Context) PhysicalDevice() vulkan.PhysicalDevice       { return c.physicalDevice }
func (c *Context) GraphicsQueue() vulkan.Queue                 { return c.graphicsQueue }
func (c *Context) PresentQueue() vulkan.Queue                  { return c.presentQueue }
func (c *Context) CommandPool() vulkan.CommandPool             { return c.commandPool }
func (c *Context) Surface() vulkan.Surface                     { return c.surface }
func (c *Context) QueueFamilies() swapchain.QueueFamilies      { return c.families }
func (c *Context) Properties() vulkan.PhysicalDeviceProperties { return c.properties }

// SwapchainSupport queries the surface as it is now. The answer changes
// with the window size.
func (c *Context) SwapchainSupport() (swapchain.Support, error) {
	return c.querySwapchainSupport(c.physicalDevice), nil
}

// Destroy releases everything in reverse creation order. Objects created
// from the context must be gone already.
func (c *Context) Destroy() {
	if c.device != vulkan.Device(vulkan.NullHandle) {
		vulkan.DeviceWaitIdle(c.device)
	}
	if c.commandPool != vulkan.CommandPool(vulkan.NullHandle) {
		vulkan.DestroyCommandPool(c.device, c.commandPool, nil)
		c.commandPool = vulkan.CommandPool(vulkan.NullHandle)
	}
	if c.device != vulkan.Device(vulkan.NullHandle) {
		vulkan.DestroyDevice(c.device, nil)
		c.device = vulkan.Device(vulkan.NullHandle)
	}
	if c.surface != vulkan.Surface(vulkan.NullHandle) {
		vulkan.DestroySurface(c.instance, c.surface, nil)
		c.surface = vulkan.Surface(vulkan.NullHandle)
	}
	if c.debugCallback != vulkan.DebugReportCallback(vulkan.NullHandle) {
		vulkan.DestroyDebugReportCallback(c.instance, c.debugCallback, nil)
		c.debugCallback = vulkan.DebugReportCallback(vulkan.NullHandle)
	}
	if c.instance != vulkan.Instance(vulkan.NullHandle) {
		vulkan.DestroyInstance(c.instance, nil)
		c.instance = vulkan.Instance(vulkan.NullHandle)
	}
}

// safeString terminates s for the C side.
func safeString(s string) string {
	if len(s) > 0 && s[len(s)-1] == 0 {
		return s
	}
	return s + "\x00"
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}
