package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func indexSpec(t *testing.T, name string, keys bson.D, unique bool) *mongo.IndexSpecification {
	t.Helper()
	raw, err := bson.Marshal(keys)
	require.NoError(t, err)
	return &mongo.IndexSpecification{Name: name, KeysDocument: raw, Unique: &unique}
}

func TestHasUniqueTitleIndex(t *testing.T) {
	id := indexSpec(t, "_id_", bson.D{{Key: "_id", Value: 1}}, false)

	tests := []struct {
		name  string
		specs []*mongo.IndexSpecification
		want  bool
	}{
		{"none", []*mongo.IndexSpecification{id}, false},
		{"default name", []*mongo.IndexSpecification{id, indexSpec(t, "title_1", bson.D{{Key: "title", Value: int32(1)}}, true)}, true},
		{"custom name", []*mongo.IndexSpecification{indexSpec(t, "idx_articles_title_unique", bson.D{{Key: "title", Value: 1}}, true)}, true},
		{"double key value", []*mongo.IndexSpecification{indexSpec(t, "title_1", bson.D{{Key: "title", Value: 1.0}}, true)}, true},
		{"not unique", []*mongo.IndexSpecification{indexSpec(t, "title_1", bson.D{{Key: "title", Value: 1}}, false)}, false},
		{"descending", []*mongo.IndexSpecification{indexSpec(t, "title_-1", bson.D{{Key: "title", Value: -1}}, true)}, false},
		{"compound", []*mongo.IndexSpecification{indexSpec(t, "title_1_source_1", bson.D{{Key: "title", Value: 1}, {Key: "source", Value: 1}}, true)}, false},
		{"unique unset", []*mongo.IndexSpecification{{Name: "title_1", KeysDocument: indexSpec(t, "", bson.D{{Key: "title", Value: 1}}, true).KeysDocument}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasUniqueTitleIndex(tt.specs))
		})
	}
}
