//go:build !(arm64 && cgo)

package kernel

// NewSel4Invoker is unavailable on builds without an arm64+cgo libsel4
// toolchain; callers on those platforms use Fake for tests or compile the
// root task only for its target.
func NewSel4Invoker() Invoker {
	return nil
}
