package vkhelper

type release struct {
	kind string
	fn   func()
}

// releaseStack records how to destroy each object in creation order.
type releaseStack []release

func (s *releaseStack) push(kind string, fn func()) {
	*s = append(*s, release{kind: kind, fn: fn})
}

// unwind runs the releases newest first and empties the stack.
func (s *releaseStack) unwind(log *Logger) {
	for len(*s) > 0 {
		last := len(*s) - 1
		r := (*s)[last]
		*s = (*s)[:last]
		log.Debug("Releasing %s", r.kind)
		r.fn()
	}
}

func (s releaseStack) kinds() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = r.kind
	}
	return out
}

// Cleanup destroys everything the context created, newest first. It first waits for the device to
// go idle so nothing is freed while a submission may still be running. Cleanup is safe to call
// after a failed Init and more than once.
func (c *Context) Cleanup() {
	if c.cleaned {
		return
	}
	c.cleaned = true
	c.ready = false

	if c.device != 0 {
		if err := c.driver.DeviceWaitIdle(c.device); err != nil {
			c.log.Warning("Device did not go idle before cleanup: %v", err)
		}
	}
	for _, t := range c.transfers {
		t.hostData = nil
	}
	c.transfers = nil

	c.releases.unwind(c.log)
	c.fences = nil
	c.commands = nil
	c.allocator = nil
	c.log.Debug("Cleanup done")
}

// Releases lists the pending releases, oldest first.
func (c *Context) Releases() []string {
	return c.releases.kinds()
}
