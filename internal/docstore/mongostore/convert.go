package mongostore

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

// toDocument strips _id and converts BSON containers into the canonical
// docstore forms.
func toDocument(raw bson.M) docstore.Document {
	id, _ := raw["_id"].(string)
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		fields[k] = fromBSON(v)
	}
	return docstore.Document{ID: id, Fields: docstore.Clone(fields)}
}

func fromBSON(v any) any {
	switch t := v.(type) {
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromBSON(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC().Format("2006-01-02T15:04:05Z07:00")
	default:
		return v
	}
}

func toBSON(fields map[string]any) bson.M {
	out := make(bson.M, len(fields))
	for k, v := range fields {
		out[k] = toBSONValue(docstore.Normalize(v))
	}
	return out
}

func toBSONValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = toBSONValue(e)
		}
		return out
	case map[string]any:
		return toBSON(t)
	default:
		return v
	}
}
