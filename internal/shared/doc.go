// Package shared provides common utilities and test helpers used across the
// subgate codebase. It is a home for functionality that does not belong to
// any specific domain or architectural layer.
//
// - locking: per-tenant mutexes for serializing admission control
// - testutil: test database setup and fixture helpers
package shared
