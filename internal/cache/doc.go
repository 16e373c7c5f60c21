// Package cache provides a TTL keyed store with two query modes: fresh
// entries that may be served instead of calling the network, and
// stale-but-usable entries that may only be served when a fetch fails.
//
// Stores are explicitly constructed and passed to their users. A store may be
// backed by a Persister, in which case it is loaded at startup and rewritten
// after every successful Set.
package cache
