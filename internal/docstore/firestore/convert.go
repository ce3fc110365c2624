package firestore

import (
	"time"

	"cloud.google.com/go/firestore"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

func toDocument(snap *firestore.DocumentSnapshot) docstore.Document {
	return docstore.Document{ID: snap.Ref.ID, Fields: fromFirestoreMap(snap.Data())}
}

func toDocuments(snaps []*firestore.DocumentSnapshot, q docstore.Query) []docstore.Document {
	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		if snap.Exists() {
			docs = append(docs, toDocument(snap))
		}
	}
	docstore.Sort(docs, q)
	return docs
}

func fromFirestoreMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromFirestore(v)
	}
	return docstore.Clone(out)
}

func fromFirestore(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *firestore.DocumentRef:
		return t.Path
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromFirestore(e)
		}
		return out
	case map[string]any:
		return fromFirestoreMap(t)
	default:
		return v
	}
}

func toFirestore(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = toFirestoreValue(docstore.Normalize(v))
	}
	return out
}

func toFirestoreValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toFirestoreValue(e)
		}
		return out
	case map[string]any:
		return toFirestore(t)
	default:
		return v
	}
}
