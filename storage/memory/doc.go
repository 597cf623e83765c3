// Package memory provides in-memory implementations of the storage interfaces.
//
// Store implements storage.CodeStore and storage.SessionStore with a single
// mutex-guarded table per kind. Consume, Save and the background sweep all
// take the same write lock, so a record can never be swept while it is being
// consumed.
//
// Registry implements storage.ClientRegistry and storage.UserStore over a
// fixed set of clients and users. Passwords are kept as bcrypt hashes.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	registry, _ := memory.NewRegistry(clients, memory.DemoUsers())
//	srv, _ := server.New(registry, registry, store, store, config, logger)
package memory
