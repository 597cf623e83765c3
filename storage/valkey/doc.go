// Package valkey provides a Valkey storage backend for authorization codes
// and login sessions.
//
// Valkey is wire-compatible with Redis, so any Redis 6.2+ server works.
// Several provider replicas can share one Valkey instance, which lets a code
// issued by one replica be redeemed at another.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oidc:"):
//
//	{prefix}code:{code}       -> JSON(AuthorizationCode), TTL = ExpiresAt
//	{prefix}session:{id}      -> JSON(Session), TTL = ExpiresAt
//
// # Atomic Operations
//
// Consume uses GETDEL, so retrieval and removal happen in one server-side
// step. Two replicas redeeming the same code concurrently cannot both see it.
//
// Sweep is a no-op because Valkey expires keys on its own.
package valkey
