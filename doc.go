// Package kbase implements a chunking strategy benchmark and knowledge base
// pipeline for document retrieval.
//
// A document is parsed into a page-addressable text model (package parse),
// split into chunks by a set of competing strategies (package strategy),
// scored by a Comparator that recommends the best strategy for the document,
// embedded in batches through an injected EmbeddingProvider, and persisted
// into a Store keyed by document identity. Re-ingesting a document replaces
// its prior entries atomically.
//
// The root package holds the domain types and the orchestration (Comparator,
// Embedder, Pipeline). Concrete stores live under store/, text parsers under
// parse/, and embedding clients under provider/.
package kbase
