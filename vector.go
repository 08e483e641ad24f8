package fsd

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// NamedVector is a vector whose components can also be addressed by alias.
type NamedVector struct {
	values  []float64
	aliases map[string]int
}

// Len returns the number of components.
func (v *NamedVector) Len() int {
	return len(v.values)
}

// At returns component i. It panics if i is out of range.
func (v *NamedVector) At(i int) float64 {
	return v.values[i]
}

// Get returns the component named by alias.
func (v *NamedVector) Get(alias string) (float64, bool) {
	i, ok := v.aliases[alias]
	if !ok || i < 0 || i >= len(v.values) {
		return 0, false
	}
	return v.values[i], true
}

// Values returns a copy of the components in positional order.
func (v *NamedVector) Values() []float64 {
	return slices.Clone(v.values)
}

// Aliases returns the alias names in sorted order.
func (v *NamedVector) Aliases() []string {
	return slices.Sorted(maps.Keys(v.aliases))
}

// String formats the vector as alias:value pairs in component order.
func (v *NamedVector) String() string {
	names := make([]string, len(v.values))
	for name, i := range v.aliases {
		if i >= 0 && i < len(names) && (names[i] == "" || name < names[i]) {
			names[i] = name
		}
	}
	parts := make([]string, len(v.values))
	for i, c := range v.values {
		if names[i] != "" {
			parts[i] = fmt.Sprintf("%s:%g", names[i], c)
		} else {
			parts[i] = fmt.Sprintf("%g", c)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
