// Package kv is the fast key/value layer used for every ephemeral record of the
// authentication protocol: refresh records, revocation entries, failure counters,
// lock state, one-time codes and MFA challenges.
//
// # Atomic primitives
//
// Cross-request invariants are enforced here, never with in-process locks:
//
//   - [Store.Incr] increments and arms the TTL on the first hit in one step.
//   - [Store.SetNX] writes only when the key is absent.
//   - [Store.GetDel] reads and deletes in one step (single-use records).
//   - [Store.DeleteIfEquals] deletes only when the stored value matches.
//
// [RedisStore] implements them with Lua scripts so they stay atomic across any
// number of service instances. [MemoryStore] implements them behind a mutex for
// single-process deployments and tests.
//
// Every backend failure is reported as [ErrUnavailable]; a missing key is
// [ErrNotFound].
package kv
