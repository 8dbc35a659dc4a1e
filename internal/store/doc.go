// Package store provides the document-store implementations of the broker
// persistence contracts: MongoDB for production and an in-memory variant
// used by tests. Both honour the same semantics: inserts conflict on
// duplicate keys, Swap is a compare-and-swap on the manifest status, and a
// losing concurrent writer gets broker.ErrConflict instead of silently
// overwriting.
package store
