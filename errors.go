package vkhelper

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

var (
	// ErrCapabilityMissing marks an optional extension or layer that is not available.
	ErrCapabilityMissing = errors.New("capability missing")
	// ErrNoSuitableDevice is returned when no physical device meets the compute criteria.
	ErrNoSuitableDevice = errors.New("no suitable device")
	// ErrResourceCreationFailed matches every ResourceError.
	ErrResourceCreationFailed = errors.New("resource creation failed")
	// ErrNoCompatibleMemoryType is returned when no memory type satisfies a buffer's requirements.
	ErrNoCompatibleMemoryType = errors.New("no compatible memory type")
	// ErrSyncTimeout is returned when a fence wait expires before the GPU signals it.
	ErrSyncTimeout = errors.New("fence wait timed out")
	// ErrExtensionNotPresent is returned by drivers for extension entry points they do not expose.
	ErrExtensionNotPresent = errors.New("extension not present")
	// ErrInvalidState is returned when a transfer step runs out of order.
	ErrInvalidState = errors.New("invalid transfer state")
)

// ResourceError reports which GPU resource the driver refused to create.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("failed to create %s: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

func (e *ResourceError) Is(target error) bool {
	return target == ErrResourceCreationFailed
}

func newResourceError(resource string, err error) error {
	return errors.WithStack(&ResourceError{Resource: resource, Err: err})
}

// Fatal runs the finalizers, logs err on the error channel and exits with status 1.
// It does nothing when err is nil.
func Fatal(log *Logger, err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	log.Error("%v", err)
	os.Exit(1)
}
