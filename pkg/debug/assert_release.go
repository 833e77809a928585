//go:build !debug

package debug

// Assert is a no-op outside debug builds.
func Assert(cond bool, msg string) {}
