// Package kv implements the ordered, prefix-iterable key-value store
// described in spec §4.A: one BoltDB bucket per column family, three
// access modes (exclusive Lock, multi-reader Snapshot, unguarded
// AccessDirect), and a generic Table[K,V] layer translating domain
// types to and from the raw byte encodings spec §6 mandates.
package kv
