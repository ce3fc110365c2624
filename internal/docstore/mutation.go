package docstore

import (
	"fmt"
	"regexp"
)

// Op is the kind of a field mutation.
type Op int

const (
	OpSet Op = iota + 1
	OpIncrement
	OpArrayUnion
	OpArrayRemove
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpIncrement:
		return "increment"
	case OpArrayUnion:
		return "arrayUnion"
	case OpArrayRemove:
		return "arrayRemove"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Mutation is a single field change. Increment uses Delta; the set
// operations and OpSet use Value.
type Mutation struct {
	Op    Op
	Field string
	Value any
	Delta int64
}

// SetField replaces a field value.
func SetField(field string, v any) Mutation { return Mutation{Op: OpSet, Field: field, Value: v} }

// Increment atomically adds delta to a numeric field (missing counts as 0).
func Increment(field string, delta int64) Mutation {
	return Mutation{Op: OpIncrement, Field: field, Delta: delta}
}

// ArrayUnion adds v to a set-like array field if not already present.
func ArrayUnion(field string, v string) Mutation {
	return Mutation{Op: OpArrayUnion, Field: field, Value: v}
}

// ArrayRemove removes every occurrence of v from a set-like array field.
func ArrayRemove(field string, v string) Mutation {
	return Mutation{Op: OpArrayRemove, Field: field, Value: v}
}

// Condition is a set-membership precondition for UpdateIf.
type Condition struct {
	Field   string
	Value   string
	Present bool
}

// Contains holds when v is in the array field.
func Contains(field, v string) Condition { return Condition{Field: field, Value: v, Present: true} }

// NotContains holds when v is absent from the array field.
func NotContains(field, v string) Condition { return Condition{Field: field, Value: v} }

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidField reports whether name is a plain top-level field name. Drivers
// that embed field names in query text rely on this.
func ValidField(name string) bool { return fieldName.MatchString(name) }

// ValidateMutations rejects empty or malformed mutation lists.
func ValidateMutations(muts []Mutation) error {
	if len(muts) == 0 {
		return fmt.Errorf("%w: no mutations", ErrInvalidArgument)
	}
	for _, m := range muts {
		if !ValidField(m.Field) {
			return fmt.Errorf("%w: field %q", ErrInvalidArgument, m.Field)
		}
		switch m.Op {
		case OpSet, OpIncrement:
		case OpArrayUnion, OpArrayRemove:
			if _, ok := m.Value.(string); !ok {
				return fmt.Errorf("%w: %s on %q needs a string value", ErrInvalidArgument, m.Op, m.Field)
			}
		default:
			return fmt.Errorf("%w: unknown op %d", ErrInvalidArgument, int(m.Op))
		}
	}
	return nil
}
