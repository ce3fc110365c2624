package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Apply mutates fields in place. Drivers without native field transforms
// (memory, SQL) call it inside their per-document critical section.
func Apply(fields map[string]any, muts ...Mutation) error {
	if err := ValidateMutations(muts); err != nil {
		return err
	}
	for _, m := range muts {
		switch m.Op {
		case OpSet:
			fields[m.Field] = Normalize(m.Value)
		case OpIncrement:
			cur, ok := AsInt64(fields[m.Field])
			if !ok && fields[m.Field] != nil {
				return fmt.Errorf("%w: %q is not numeric", ErrInvalidArgument, m.Field)
			}
			fields[m.Field] = cur + m.Delta
		case OpArrayUnion:
			arr := AsStrings(fields[m.Field])
			v := m.Value.(string)
			if !containsString(arr, v) {
				arr = append(arr, v)
			}
			fields[m.Field] = toAnySlice(arr)
		case OpArrayRemove:
			arr := AsStrings(fields[m.Field])
			v := m.Value.(string)
			kept := arr[:0]
			for _, s := range arr {
				if s != v {
					kept = append(kept, s)
				}
			}
			fields[m.Field] = toAnySlice(kept)
		}
	}
	return nil
}

// Holds evaluates cond against fields.
func Holds(fields map[string]any, cond Condition) bool {
	return containsString(AsStrings(fields[cond.Field]), cond.Value) == cond.Present
}

// Matches reports whether fields satisfy every equality filter.
func Matches(fields map[string]any, where []Filter) bool {
	for _, f := range where {
		s, ok := fields[f.Field].(string)
		if !ok || s != f.Value {
			return false
		}
	}
	return true
}

// Sort orders docs by the string form of q.OrderBy, ties broken by id.
func Sort(docs []Document, q Query) {
	if q.OrderBy == "" {
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a := fmt.Sprint(docs[i].Fields[q.OrderBy])
		b := fmt.Sprint(docs[j].Fields[q.OrderBy])
		if a == b {
			return docs[i].ID < docs[j].ID
		}
		if q.Direction == Desc {
			return a > b
		}
		return a < b
	})
}

// Clone deep-copies fields so callers never share maps or slices with a
// driver's internal state.
func Clone(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = Normalize(v)
	}
	return out
}

// Normalize converts driver-native values into the canonical forms listed
// on Document: int64 for integers, []any for arrays, nested maps cloned.
func Normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []string:
		return toAnySlice(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		return Clone(t)
	default:
		return v
	}
}

// AsInt64 reads a numeric field value.
func AsInt64(v any) (int64, bool) {
	switch t := Normalize(v).(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

// AsStrings reads a set-like array field. Non-string members are ignored.
func AsStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

func containsString(arr []string, v string) bool {
	for _, s := range arr {
		if s == v {
			return true
		}
	}
	return false
}

func toAnySlice(arr []string) []any {
	out := make([]any, len(arr))
	for i, s := range arr {
		out[i] = s
	}
	return out
}

// Key renders collection/id for logs and change notifications.
func Key(collection, id string) string {
	return strings.Join([]string{collection, id}, "/")
}
