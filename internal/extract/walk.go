package extract

import (
	"reflect"
	"sort"
	"unsafe"
)

type identity struct {
	ptr unsafe.Pointer
	n   int
}

// Walk visits every object reachable from root with an explicit stack. Each
// map or slice is visited at most once by identity, so aliased and cyclic
// graphs terminate. Object keys are pushed in sorted order, which makes the
// visit order a pure function of the input.
func Walk(root any, visit func(obj map[string]any)) {
	seen := make(map[identity]struct{})
	stack := []any{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch node := cur.(type) {
		case []any:
			if len(node) == 0 {
				continue
			}
			id := identity{ptr: reflect.ValueOf(node).UnsafePointer(), n: len(node)}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			stack = append(stack, node...)
		case map[string]any:
			id := identity{ptr: reflect.ValueOf(node).UnsafePointer(), n: -1}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			visit(node)
			for _, k := range sortedKeys(node) {
				stack = append(stack, node[k])
			}
		}
	}
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
