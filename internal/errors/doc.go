// Package errors provides structured, coded errors for assetsync.
//
// Every failure that crosses a component boundary (registry, scanner, sync
// protocol, bundle builder) is an *AssetError carrying a stable code from the
// registry in this package. Codes group into categories that mirror the
// failure taxonomy of the pipeline:
//   - notfound: a requested file or resolved entry is absent
//   - reference: a discovered reference could not be statically evaluated
//   - transport: the sync channel is offline or a remote request failed
//   - subprocess: the build child exited non-zero or reported an error
//   - protocol: anomalies such as duplicate subscriptions
//   - config: invalid or unreadable configuration
//
// # Usage
//
//	err := errors.New("A100").WithDetail("/app/missing.js")
//	if errors.IsCode(err, "A100") { ... }
//
// Errors created from the same code match each other with the standard
// library's errors.Is, so callers can compare against the exported sentinels:
//
//	if stderrors.Is(err, errors.ErrOffline) { ... }
package errors
