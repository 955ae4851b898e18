//go:build debugassert

package timer

// Contract violations panic in debugassert builds.
const assertions = true
