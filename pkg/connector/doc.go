// Package connector contains the realtime connector framework.
//
// The framework splits a connector into two halves: core.Driver, the
// per-source protocol logic (connect, disconnect, one fetch cycle),
// and base.Connector, the supervisor that owns the lifecycle state
// machine, the polling loop, retries and callback fan-out. Concrete
// sources live under sources/ and register factories with registry.
package connector
