// Package storage defines the data model and collaborator interfaces of the
// authorization server.
//
// The interfaces split into two groups:
//   - ClientRegistry and UserStore are read-only lookup services loaded at startup.
//   - CodeStore and SessionStore hold the mutable state of in-flight logins and
//     authorization codes.
//
// CodeStore.Consume is the only way to read an authorization code. It removes
// the record in the same atomic step, which is what makes codes single-use.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory stores and a static registry, safe for concurrent use
//   - storage/valkey: Valkey/Redis-compatible CodeStore and SessionStore
//   - storage/mock: function-field mocks for unit tests
package storage
