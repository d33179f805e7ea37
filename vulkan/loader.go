package vulkan

import (
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

const (
	// LoaderDefault resolves vkGetInstanceProcAddr from the system Vulkan loader.
	LoaderDefault = "default"
	// LoaderGLFW asks GLFW for vkGetInstanceProcAddr. Use it where the loader is only reachable
	// through GLFW, as with MoltenVK bundles. GLFW must be initialized on the main thread.
	LoaderGLFW = "glfw"
)

// load points vulkan-go at a Vulkan loader and initializes the global function table. It returns a
// function undoing whatever load set up.
func load(loader string) (func(), error) {
	switch loader {
	case "", LoaderDefault:
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, errors.Wrap(err, "locate vulkan loader")
		}
		if err := vk.Init(); err != nil {
			return nil, errors.Wrap(err, "init vulkan")
		}
		return func() {}, nil
	case LoaderGLFW:
		if err := glfw.Init(); err != nil {
			return nil, errors.Wrap(err, "init glfw")
		}
		if !glfw.VulkanSupported() {
			glfw.Terminate()
			return nil, errors.New("glfw: vulkan is not supported")
		}
		vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
		if err := vk.Init(); err != nil {
			glfw.Terminate()
			return nil, errors.Wrap(err, "init vulkan")
		}
		return glfw.Terminate, nil
	default:
		return nil, errors.Errorf("unknown vulkan loader %q", loader)
	}
}
