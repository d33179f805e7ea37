package vulkan

const end = "\x00"

const endChar byte = '\x00'

// safeString returns s terminated by a NUL byte, as the C API expects.
func safeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

// safeStrings terminates every name in a copy of list.
func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}
