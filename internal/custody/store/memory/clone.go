// Package memory provides mutex-guarded in-memory custody stores for
// development and tests. Aggregates are stored as documents and copied on
// every read and write, so callers never share state with the store.
package memory

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

func clone[T any](v *T) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func cloneAll[T any](in []*T) ([]*T, error) {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		c, err := clone(v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// sortedByKey orders results deterministically for tests and callers that
// page through them.
func sortedByKey[T any](in []*T, key func(*T) string) []*T {
	slices.SortFunc(in, func(a, b *T) int { return strings.Compare(key(a), key(b)) })
	return in
}
