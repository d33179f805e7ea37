// Command vkhelper bootstraps a compute capable GPU context, moves a buffer to the device and
// reads it back.
package main

import (
	"os"
	"runtime"

	"github.com/andewx/vkhelper"
)

func init() {
	// GLFW must run on the main thread.
	runtime.LockOSThread()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		vkhelper.Fatal(vkhelper.NewLogger(os.Stderr, "error", true), err)
	}
}
