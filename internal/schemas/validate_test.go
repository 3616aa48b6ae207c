package schemas

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exportschemas "github.com/jonathan/publication-pipeline/schemas"
)

const validExport = `[
    {
        "title": "Scalable Ledgers",
        "authors": "Alice Martin",
        "date_pub": "2021",
        "source": "ACM",
        "journal": "ACM",
        "abstract": "N/A"
    },
    {
        "title": "Édition spéciale",
        "authors": "Unknown",
        "date_pub": "Unknown",
        "source": "ScienceDirect",
        "journal": "ScienceDirect Journal",
        "abstract": "N/A"
    }
]`

func TestValidate_ValidExport(t *testing.T) {
	assert.NoError(t, Validate(exportschemas.PublicationExport, []byte(validExport)))
	assert.NoError(t, Validate(exportschemas.PublicationExport, []byte(`[]`)))
}

func TestValidate_InvalidExport_MissingField(t *testing.T) {
	doc := `[{"title": "A", "authors": "B", "date_pub": "2020", "source": "IEEE", "journal": "IEEE"}]`

	err := Validate(exportschemas.PublicationExport, []byte(doc))
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok, "error should be ValidationError type")
	assert.Greater(t, len(validationErr.Errors), 0)
}

func TestValidate_InvalidExport_SentinelTitle(t *testing.T) {
	doc := `[{"title": "Unknown Title", "authors": "B", "date_pub": "2020", "source": "IEEE", "journal": "IEEE", "abstract": "N/A"}]`

	err := Validate(exportschemas.PublicationExport, []byte(doc))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestValidate_InvalidExport_WrongType(t *testing.T) {
	err := Validate(exportschemas.PublicationExport, []byte(`{"title": "not an array"}`))
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok, "error should be ValidationError type")
	assert.Equal(t, "(root)", validationErr.Errors[0].Field)
}

func TestValidate_InvalidEnrichedExport(t *testing.T) {
	doc := `[{
		"title": "A", "authors": "B", "date_pub": "2020", "source": "IEEE", "journal": "IEEE", "abstract": "N/A",
		"quartile": "Q5", "country": "USA", "impact_score": 11, "citations": -1, "generated_keywords": []
	}]`

	err := Validate(exportschemas.EnrichedExport, []byte(doc))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.GreaterOrEqual(t, len(validationErr.Errors), 4)
}

func TestValidate_InvalidSchema(t *testing.T) {
	err := Validate([]byte(`{not json`), []byte(`[]`))
	require.Error(t, err)

	schemaErr, ok := err.(*SchemaLoadError)
	require.True(t, ok, "error should be SchemaLoadError type")
	assert.NotNil(t, schemaErr.Unwrap())
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(path, []byte(validExport), 0644))

	assert.NoError(t, ValidateFile(exportschemas.PublicationExport, path))

	err := ValidateFile(exportschemas.PublicationExport, filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidationError_TruncatesLongLists(t *testing.T) {
	ve := &ValidationError{}
	for i := range 25 {
		ve.Errors = append(ve.Errors, FieldError{Field: fmt.Sprintf("%d", i), Message: "bad"})
	}
	msg := ve.Error()
	assert.Contains(t, msg, "and 5 more")
	assert.Equal(t, maxReported+2, strings.Count(msg, "\n"))
}
