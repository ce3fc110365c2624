package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

func TestUpdateDoc(t *testing.T) {
	u, err := updateDoc([]docstore.Mutation{
		docstore.Increment("likes", 1),
		docstore.ArrayUnion("likedBy", "a"),
		docstore.ArrayUnion("likedBy", "b"),
		docstore.ArrayRemove("tags", "old"),
		docstore.SetField("title", "x"),
	})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"likes": int64(1)}, u["$inc"])
	assert.Equal(t, bson.M{"likedBy": bson.M{"$each": bson.A{"a", "b"}}}, u["$addToSet"])
	assert.Equal(t, bson.M{"tags": bson.M{"$in": bson.A{"old"}}}, u["$pull"])
	assert.Equal(t, bson.M{"title": "x"}, u["$set"])

	_, err = updateDoc(nil)
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
}

func TestToDocument(t *testing.T) {
	doc := toDocument(bson.M{
		"_id":     "e1",
		"likes":   int32(3),
		"likedBy": primitive.A{"a", "b"},
		"meta":    primitive.D{{Key: "k", Value: "v"}},
	})
	assert.Equal(t, "e1", doc.ID)
	assert.Equal(t, int64(3), doc.Fields["likes"])
	assert.Equal(t, []string{"a", "b"}, docstore.AsStrings(doc.Fields["likedBy"]))
	assert.Equal(t, map[string]any{"k": "v"}, doc.Fields["meta"])
	_, hasID := doc.Fields["_id"]
	assert.False(t, hasID)
}
