// Package types defines the record shapes shared across the ingestion pipeline.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the publication listing a record was scraped from.
type Source string

const (
	// SourceACM is the ACM Digital Library
	SourceACM Source = "ACM"
	// SourceIEEE is IEEE Xplore
	SourceIEEE Source = "IEEE"
	// SourceScienceDirect is Elsevier ScienceDirect
	SourceScienceDirect Source = "ScienceDirect"
)

// Sentinel values written when a field cannot be resolved.
const (
	UnknownTitle   = "Unknown Title"
	UnknownAuthors = "Unknown"
	UnknownDate    = "Unknown"
	AbstractNA     = "N/A"
)

// AllSources returns every supported source in scrape order.
func AllSources() []Source {
	return []Source{SourceIEEE, SourceScienceDirect, SourceACM}
}

// ParseSource resolves a source from its name or a common alias (case-insensitive).
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "acm", "acm digital library":
		return SourceACM, nil
	case "ieee", "iee", "ieee xplore":
		return SourceIEEE, nil
	case "sd", "sciencedirect", "science direct":
		return SourceScienceDirect, nil
	default:
		return "", fmt.Errorf("unknown source: %q", s)
	}
}

// Slug returns a short lowercase identifier used in file names.
func (s Source) Slug() string {
	switch s {
	case SourceACM:
		return "acm"
	case SourceIEEE:
		return "ieee"
	case SourceScienceDirect:
		return "sd"
	default:
		return strings.ToLower(string(s))
	}
}

// PublicationRecord is one scraped listing item in normalized form.
// Title is the de-duplication key but is not unique at insert time.
type PublicationRecord struct {
	Title    string `json:"title" bson:"title" validate:"required"`
	Authors  string `json:"authors" bson:"authors"`
	DatePub  string `json:"date_pub" bson:"date_pub"`
	Source   Source `json:"source" bson:"source" validate:"required,oneof=ACM IEEE ScienceDirect"`
	Journal  string `json:"journal" bson:"journal"`
	Abstract string `json:"abstract" bson:"abstract"`
}

// StoredRecord is a PublicationRecord together with its store identifier.
// IDs are only comparable within a single store backend.
type StoredRecord struct {
	ID string `json:"-"`
	PublicationRecord
}

// EnrichedRecord is a record with simulated bibliometric fields attached.
//
// Quartile, Country, ImpactScore, Citations and GeneratedKeywords are SYNTHETIC:
// they are derived from a hash of the title and do not reflect real data.
type EnrichedRecord struct {
	PublicationRecord `bson:",inline"`
	Quartile          string    `json:"quartile" bson:"quartile"`
	Country           string    `json:"country" bson:"country"`
	ImpactScore       float64   `json:"impact_score" bson:"impact_score"`
	Citations         int       `json:"citations" bson:"citations"`
	GeneratedKeywords []string  `json:"generated_keywords" bson:"generated_keywords"`
	ETLTimestamp      time.Time `json:"etl_timestamp" bson:"etl_timestamp"`
}

// HasKnownYear reports whether DatePub holds an extracted year.
func (r PublicationRecord) HasKnownYear() bool {
	return r.DatePub != "" && r.DatePub != UnknownDate
}
