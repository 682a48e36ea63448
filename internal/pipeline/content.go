package pipeline

import (
	"fmt"
	"path"
	"strings"

	"github.com/roach88/fold/internal/schema"
	"github.com/roach88/fold/internal/value"
)

// checkContent verifies write content fits the field type: single fields
// take any non-null value, collections an array, ranges an object.
func checkContent(t schema.FieldType, v value.Value) error {
	if value.IsNull(v) {
		return fmt.Errorf("content is required")
	}
	switch t {
	case schema.Collection:
		if _, ok := v.(value.Array); !ok {
			return fmt.Errorf("collection field needs an array, got %s", value.Kind(v))
		}
	case schema.Range:
		if _, ok := v.(value.Object); !ok {
			return fmt.Errorf("range field needs an object, got %s", value.Kind(v))
		}
	}
	return nil
}

// checkFilter validates a filter before any stage runs.
func checkFilter(f *Filter) error {
	if f.Pattern != "" {
		if _, err := path.Match(f.Pattern, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", f.Pattern, err)
		}
	}
	if f.Start != "" && f.End != "" && f.Start > f.End {
		return fmt.Errorf("range start %q is after end %q", f.Start, f.End)
	}
	return nil
}

// project applies f to the object content of a range field.
func project(content value.Value, f *Filter) (value.Value, error) {
	if f.IsZero() {
		return content, nil
	}
	obj, ok := content.(value.Object)
	if !ok {
		return nil, fmt.Errorf("range content is %s, not an object", value.Kind(content))
	}

	out := value.Object{}
	for k, v := range obj {
		if matches(f, k) {
			out[k] = v
		}
	}
	return out, nil
}

func matches(f *Filter, k string) bool {
	if f.Key != "" && k != f.Key {
		return false
	}
	if f.Prefix != "" && !strings.HasPrefix(k, f.Prefix) {
		return false
	}
	if f.Start != "" && k < f.Start {
		return false
	}
	if f.End != "" && k >= f.End {
		return false
	}
	if f.Pattern != "" {
		// Pattern syntax is validated up front.
		if ok, _ := path.Match(f.Pattern, k); !ok {
			return false
		}
	}
	return true
}
