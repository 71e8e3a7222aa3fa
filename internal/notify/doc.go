// Package notify provides the broadcast primitives used to propagate state
// and file lifecycle changes between components.
//
// Two variants exist and are deliberately distinct:
//
//   - Value holds a current value and notifies subscribers only when Set
//     stores a value that differs from the current one. It models state,
//     such as whether the sync channel is online.
//   - Stream carries discrete occurrences. Every Emit reaches every
//     subscriber, even when the payload equals the previous one.
//
// Subscribers are called synchronously, in attach order, on the goroutine that
// calls Set or Emit. Attach returns a *Subscription handle; Detach takes that
// handle back. Detaching an unknown or already detached handle, and attaching
// the same function and owner twice, are reported as warnings through the
// configured logger and never fail.
package notify
