package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		input    string
		expected Source
	}{
		{"acm", SourceACM},
		{"ACM Digital Library", SourceACM},
		{"ieee", SourceIEEE},
		{"iee", SourceIEEE},
		{"IEEE Xplore", SourceIEEE},
		{"sd", SourceScienceDirect},
		{" ScienceDirect ", SourceScienceDirect},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSource(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseSource_Unknown(t *testing.T) {
	_, err := ParseSource("arxiv")
	assert.Error(t, err)
}

func TestSourceSlug(t *testing.T) {
	assert.Equal(t, "acm", SourceACM.Slug())
	assert.Equal(t, "ieee", SourceIEEE.Slug())
	assert.Equal(t, "sd", SourceScienceDirect.Slug())
}

func TestAllSources(t *testing.T) {
	sources := AllSources()
	assert.Len(t, sources, 3)
	assert.Contains(t, sources, SourceACM)
	assert.Contains(t, sources, SourceIEEE)
	assert.Contains(t, sources, SourceScienceDirect)
}

func TestHasKnownYear(t *testing.T) {
	assert.True(t, PublicationRecord{DatePub: "2021"}.HasKnownYear())
	assert.False(t, PublicationRecord{DatePub: UnknownDate}.HasKnownYear())
	assert.False(t, PublicationRecord{}.HasKnownYear())
}
