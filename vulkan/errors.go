package vulkan

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// NewError converts a failed vk.Result into an error naming the calling function. It returns nil
// for vk.Success. The vk error stays the cause, so errors.Cause(err) == vk.Error(ret).
func NewError(ret vk.Result) error {
	if !isError(ret) {
		return nil
	}
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return errors.Wrapf(vk.Error(ret), "vulkan error (%d)", ret)
	}
	frame := newStackFrame(pc)
	return errors.Wrapf(vk.Error(ret), "vulkan error (%d) on %s", ret, frame)
}

type stackFrame struct {
	file     string
	line     int
	function string
}

func newStackFrame(pc uintptr) stackFrame {
	frame := stackFrame{function: "???"}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return frame
	}
	frame.file, frame.line = fn.FileLine(pc)
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	frame.function = name
	return frame
}

func (s stackFrame) String() string {
	file := s.file
	if i := strings.LastIndex(file, "/"); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s (%s:%d)", s.function, file, s.line)
}
