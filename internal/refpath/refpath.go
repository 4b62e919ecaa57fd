// Package refpath resolves ref(nodeId, path) parameter values against a
// run's artifact store, following dotted/bracket path segments such as
// "foo.bar[0].baz". Adapted from the connector-facing template resolver's
// path-traversal logic, generalized to operate directly on artifacts
// instead of a variable context with env/input namespaces.
package refpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Sentinel errors surfaced to the dispatcher, which wraps them into a
// domain.ErrorKindRefUnresolved connector error.
var (
	ErrNotFound         = errors.New("path not found")
	ErrArrayOutOfBounds = errors.New("array index out of bounds")
	ErrNotIndexable     = errors.New("value is not indexable")
	ErrInvalidIndex     = errors.New("invalid array index")
)

// Resolve traverses path against root, returning the value at that path.
// An empty path returns root itself.
func Resolve(root any, path string) (any, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return root, nil
	}
	return traverse(root, parts)
}

func traverse(value any, parts []string) (any, error) {
	current := value
	for _, part := range parts {
		if strings.Contains(part, "[") && strings.HasSuffix(part, "]") {
			var err error
			current, err = resolveIndexed(current, part)
			if err != nil {
				return nil, err
			}
			continue
		}
		next, ok := resolveField(current, part)
		if !ok {
			return nil, fmt.Errorf("%w: field %q", ErrNotFound, part)
		}
		current = next
	}
	return current, nil
}

// resolveField resolves a map key or struct field by name.
func resolveField(value any, field string) (any, bool) {
	if value == nil {
		return nil, false
	}
	if m, ok := value.(map[string]any); ok {
		v, ok := m[field]
		return v, ok
	}

	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		f := v.FieldByName(field)
		if f.IsValid() {
			return f.Interface(), true
		}
	}

	// Fall back through JSON for arbitrary struct/map-like values (e.g.
	// connector outputs that are typed structs rather than map[string]any).
	if data, err := json.Marshal(value); err == nil {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err == nil {
			v, ok := m[field]
			return v, ok
		}
	}
	return nil, false
}

// resolveIndexed handles a path segment like "items[0]", "[0]", or
// "items[0][1]": an optional field name followed by one or more chained
// bracketed indices.
func resolveIndexed(value any, segment string) (any, error) {
	fieldName := ""
	indexPart := segment
	if bracketIdx := strings.Index(segment, "["); bracketIdx > 0 {
		fieldName = segment[:bracketIdx]
		indexPart = segment[bracketIdx:]
	}

	current := value
	if fieldName != "" {
		v, ok := resolveField(current, fieldName)
		if !ok {
			return nil, fmt.Errorf("%w: field %q", ErrNotFound, fieldName)
		}
		current = v
	}

	indices, err := parseIndices(indexPart)
	if err != nil {
		return nil, err
	}
	for _, idx := range indices {
		current, err = indexInto(current, idx)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func indexInto(value any, index int) (any, error) {
	if value == nil {
		return nil, ErrNotIndexable
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		if index < 0 || index >= v.Len() {
			return nil, fmt.Errorf("%w: index %d, length %d", ErrArrayOutOfBounds, index, v.Len())
		}
		return v.Index(index).Interface(), nil
	}
	if data, err := json.Marshal(value); err == nil {
		var arr []any
		if err := json.Unmarshal(data, &arr); err == nil {
			if index < 0 || index >= len(arr) {
				return nil, fmt.Errorf("%w: index %d, length %d", ErrArrayOutOfBounds, index, len(arr))
			}
			return arr[index], nil
		}
	}
	return nil, ErrNotIndexable
}

// splitPath splits "user.profile.items[0].name" into
// ["user", "profile", "items[0]", "name"], keeping bracketed indices
// attached to their preceding segment and not splitting on dots inside
// brackets.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var parts []string
	var cur strings.Builder
	inBracket := false
	for _, ch := range path {
		switch ch {
		case '.':
			if inBracket {
				cur.WriteRune(ch)
				continue
			}
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		case '[':
			inBracket = true
			cur.WriteRune(ch)
		case ']':
			inBracket = false
			cur.WriteRune(ch)
		default:
			cur.WriteRune(ch)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// parseIndices parses "[0]" or "[0][1]" into [0] / [0, 1].
func parseIndices(expr string) ([]int, error) {
	var indices []int
	start := 0
	for {
		open := strings.Index(expr[start:], "[")
		if open < 0 {
			break
		}
		open += start
		closeIdx := strings.Index(expr[open:], "]")
		if closeIdx < 0 {
			break
		}
		closeIdx += open
		num, err := strconv.Atoi(strings.TrimSpace(expr[open+1 : closeIdx]))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIndex, expr[open+1:closeIdx])
		}
		indices = append(indices, num)
		start = closeIdx + 1
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIndex, expr)
	}
	return indices, nil
}
