package vkhelper

// Extensions compares a wanted list of extension or layer names against the names the driver reports.
type Extensions struct {
	wanted []string
	actual []string
}

func NewExtensions(wanted []string, actual []string) *Extensions {
	var base Extensions
	base.wanted = dedupe(wanted)
	base.actual = actual
	return &base
}

func (e *Extensions) Has(name string) bool {
	for _, act := range e.actual {
		if act == name {
			return true
		}
	}
	return false
}

// HasWanted reports whether every wanted name is available, along with the missing ones.
func (e *Extensions) HasWanted() (bool, []string) {
	missing := []string{}
	for _, want := range e.wanted {
		if !e.Has(want) {
			missing = append(missing, want)
		}
	}
	return len(missing) == 0, missing
}

// Available returns the wanted names the driver reports, in the order they were asked for.
func (e *Extensions) Available() []string {
	implement := []string{}
	for _, want := range e.wanted {
		if e.Has(want) {
			implement = append(implement, want)
		}
	}
	return implement
}

func (e *Extensions) Wanted() []string {
	return e.wanted
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
