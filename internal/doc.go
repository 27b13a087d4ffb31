// Package internal documents the relay server internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, problem rendering, and routing
// - domain: channel, key, user, and session business logic
// - broadcast: in-process fan-out from publishers to live streams
// - storage: database access and repositories (pgx + Postgres)
// - auth, config, metrics, telemetry: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
