//go:build !debugassert

package timer

const assertions = false
