package swapchain

var (
	ChooseSurfaceFormat = chooseSurfaceFormat
	ChoosePresentMode   = choosePresentMode
	ChooseExtent        = chooseExtent
	ChooseImageCount    = chooseImageCount
	StatusOf            = statusOf
)
