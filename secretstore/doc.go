// Package secretstore provides versioned secret storage backends behind the
// interfaces.SecretStore contract, plus the retry and circuit breaker
// machinery every caller goes through.
//
// # Backends
//
// Three backends are provided:
//
//   - VaultStore: HashiCorp Vault KV version 2. This is the production
//     backend. Authentication uses AppRole; the client token is cached and
//     refreshed transparently before it expires, so callers never handle
//     token lifecycle. Every request carries a bounded timeout.
//
//   - FileStore: local filesystem storage with one directory per secret
//     path and one file per version. Intended for development and
//     single-node deployments.
//
//   - MemoryStore: in-memory map, used by tests. It can simulate a sealed
//     store and transient outages.
//
// Backends are selected from a location URI via StoreFactory:
//
//	factory := secretstore.NewStoreFactory(roleID, secretID, 0, log)
//	store, err := factory.StoreFor("vault://vault.internal:8200/secret")
//	store, err := factory.StoreFor("file:///var/lib/escrowd/secrets")
//	store, err := factory.StoreFor("mem://")
//
// # Failure Classification
//
// Backends map raw transport failures into the interfaces error taxonomy:
//
//   - interfaces.ErrStoreSealed: the store is sealed and an operator must
//     unseal it. Never retried automatically.
//   - interfaces.ErrStoreUnavailable: transient connectivity or 5xx
//     failure. Safe to retry with backoff.
//   - interfaces.ErrAuthExpired: the cached token was rejected. A fresh
//     login followed by a single retry resolves it.
//   - interfaces.ErrSecretNotFound: the path or version does not exist.
//
// # Resilience
//
// NewResilientStore decorates any backend with the retry policy and a
// circuit breaker:
//
//	store = secretstore.NewResilientStore(backend, secretstore.DefaultRetryPolicy(), log)
//
// Unavailable errors are retried with exponential backoff. Expired
// authentication triggers one forced re-login and one retry. A sealed store
// trips the breaker immediately: subsequent calls fail fast with
// interfaces.ErrStoreSealed until a probe observes the store unsealed
// again. Not-found and validation errors pass through untouched.
package secretstore
