package zarr

import (
	"context"
	"errors"
)

func isKind(err, kind error) bool {
	return errors.Is(err, kind)
}

// FirstArrays walks the hierarchy breadth-first from the root and returns, for each
// group visited, the path of the first array found among its children.  Children are
// visited in sorted order, so the result is stable.  If the root is itself an array its
// path ("") is the only result.
func (s *Store) FirstArrays(ctx context.Context) ([]string, error) {
	isArray, err := s.IsArray(ctx, "")
	if err != nil {
		return nil, err
	}
	if isArray {
		return []string{""}, nil
	}
	var arrays []string
	queue := []string{""}
	for len(queue) > 0 {
		group := queue[0]
		queue = queue[1:]
		children, err := s.Children(ctx, group)
		if err != nil {
			return nil, err
		}
		found := false
		for _, name := range children {
			child := join(group, name)
			isArray, err := s.IsArray(ctx, child)
			if err != nil {
				return nil, err
			}
			if isArray {
				if !found {
					arrays = append(arrays, child)
					found = true
				}
				continue
			}
			queue = append(queue, child)
		}
	}
	return arrays, nil
}
