package ledger

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/Jeffail/gabs/v2"
)

// Patch document layout:
//
//	{"set": {"field": <new value>, ...}, "unset": ["field", ...]}
const (
	patchSet   = "set"
	patchUnset = "unset"
)

// parseObject parses a metadata blob. Empty input is an empty object.
func parseObject(raw string) (*gabs.Container, error) {
	if raw == "" {
		return gabs.New(), nil
	}
	c, err := gabs.ParseJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("metadata is not valid JSON: %w", err)
	}
	if _, ok := c.Data().(map[string]interface{}); !ok {
		return nil, fmt.Errorf("metadata must be a JSON object")
	}
	return c, nil
}

// DiffMetadata compares two metadata blobs at the top level and returns the
// changed field names (sorted) and a patch that turns prev into next.
func DiffMetadata(prev, next string) ([]string, string, error) {
	before, err := parseObject(prev)
	if err != nil {
		return nil, "", err
	}
	after, err := parseObject(next)
	if err != nil {
		return nil, "", err
	}

	beforeFields := before.ChildrenMap()
	afterFields := after.ChildrenMap()

	patch := gabs.New()
	if _, err := patch.Object(patchSet); err != nil {
		return nil, "", err
	}
	if _, err := patch.Array(patchUnset); err != nil {
		return nil, "", err
	}

	var changed []string
	for name, value := range afterFields {
		old, existed := beforeFields[name]
		if existed && reflect.DeepEqual(old.Data(), value.Data()) {
			continue
		}
		if _, err := patch.Set(value.Data(), patchSet, name); err != nil {
			return nil, "", fmt.Errorf("failed to build patch for %q: %w", name, err)
		}
		changed = append(changed, name)
	}

	for name := range beforeFields {
		if _, still := afterFields[name]; still {
			continue
		}
		if err := patch.ArrayAppend(name, patchUnset); err != nil {
			return nil, "", fmt.Errorf("failed to build patch for %q: %w", name, err)
		}
		changed = append(changed, name)
	}

	sort.Strings(changed)
	return changed, patch.String(), nil
}

// ApplyPatch applies a patch produced by DiffMetadata to state
func ApplyPatch(state, patch string) (string, error) {
	doc, err := parseObject(state)
	if err != nil {
		return "", err
	}
	p, err := gabs.ParseJSON([]byte(patch))
	if err != nil {
		return "", fmt.Errorf("invalid metadata patch: %w", err)
	}

	for name, value := range p.S(patchSet).ChildrenMap() {
		if _, err := doc.Set(value.Data(), name); err != nil {
			return "", fmt.Errorf("failed to apply %q: %w", name, err)
		}
	}
	for _, child := range p.S(patchUnset).Children() {
		name, ok := child.Data().(string)
		if !ok {
			continue
		}
		if doc.Exists(name) {
			if err := doc.Delete(name); err != nil {
				return "", fmt.Errorf("failed to remove %q: %w", name, err)
			}
		}
	}

	return doc.String(), nil
}
