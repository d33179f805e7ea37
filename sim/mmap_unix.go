//go:build unix

package sim

import "golang.org/x/sys/unix"

// hostAlloc backs host-visible memory with an anonymous private mapping, page aligned like a real
// driver mapping.
func hostAlloc(size uint64) ([]byte, bool, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func hostFree(b []byte, mapped bool) error {
	if !mapped {
		return nil
	}
	return unix.Munmap(b)
}
