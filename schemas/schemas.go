// Package schemas embeds the JSON Schemas that exported snapshots must satisfy.
package schemas

import _ "embed"

// PublicationExport validates a raw record export.
//
//go:embed publication_export.schema.json
var PublicationExport []byte

// EnrichedExport validates a fact table export.
//
//go:embed enriched_export.schema.json
var EnrichedExport []byte
