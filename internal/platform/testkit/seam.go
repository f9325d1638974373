package testkit

import "testing"

// Swap points a package-level seam (clock, build reader, opener) at replacement
// until the test and its subtests finish
// Tests using it must not run in parallel with other users of the same seam.
func Swap[T any](t *testing.T, target *T, replacement T) {
	t.Helper()
	orig := *target
	*target = replacement
	t.Cleanup(func() { *target = orig })
}
