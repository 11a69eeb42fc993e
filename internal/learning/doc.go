// Package learning provides the retrieval-only memory store FreshContextBuilder
// (C5) draws its lowest-priority "retrieved memories" section from. An
// escalated task records one Memory per non-blank line of its error output,
// and an iteration records one Memory per error entry that carries a fix
// suggestion; later tasks retrieve the memories whose
// summary or fix suggestion best matches their own description via SQLite
// FTS5 keyword search.
//
// Memories are deliberately append-only and untyped beyond the ErrorKind /
// Severity already carried on pkg/models.ErrorEntry — there is no separate
// concept graph, effectiveness scoring, or TTL lifecycle. C5 treats memories
// as the first section trimmed once the token budget runs out, so the store
// stays proportionate to that role rather than growing into a second
// knowledge base.
package learning
