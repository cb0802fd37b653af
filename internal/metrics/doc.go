// Package metrics exposes Prometheus instrumentation for the storage
// gateway, optimizer, and budget monitor. The collector owns a private
// registry so tests can run collectors side by side without duplicate
// registration panics.
package metrics
