// Package space tracks disk usage against a configured budget and answers
// the admission questions the engine asks before accepting a conversion.
//
// Usage is recomputed wholesale by walking the source, output, and temp
// roots; snapshots are replaced atomically and marked stale when a walk
// fails, never patched incrementally. The accountant also carries the
// reservation ledger: compare-and-reserve under one lock is what prevents
// two concurrent admissions from both passing against the same stale
// availability figure.
package space
