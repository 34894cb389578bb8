package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for knowledge base observability spans and metrics.
var (
	AttrEmbedModel      = attribute.Key("embedding.model")
	AttrEmbedProvider   = attribute.Key("embedding.provider")
	AttrEmbedTextCount  = attribute.Key("embedding.text_count")
	AttrEmbedDimensions = attribute.Key("embedding.dimensions")

	AttrDocumentID = attribute.Key("kb.document_id")
	AttrChunkCount = attribute.Key("kb.chunk_count")
	AttrStoreKind  = attribute.Key("kb.store")
	AttrTopK       = attribute.Key("kb.top_k")
	AttrHitCount   = attribute.Key("kb.hit_count")
)
