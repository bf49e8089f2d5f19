package domain

import (
	"sort"
	"strings"
)

// SelectedOption is a single attribute choice such as size=M.
type SelectedOption struct {
	Name  string
	Value string
}

// SelectedOptions is a canonical, name-sorted list of option choices. Two items with the same
// product and equal option keys are the same line item.
type SelectedOptions []SelectedOption

// NewSelectedOptions normalises a raw attribute map. Names are lower-cased, values trimmed, and
// empty entries dropped.
func NewSelectedOptions(raw map[string]string) SelectedOptions {
	if len(raw) == 0 {
		return nil
	}
	out := make(SelectedOptions, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for name, value := range raw {
		n := strings.ToLower(strings.TrimSpace(name))
		v := strings.TrimSpace(value)
		if n == "" || v == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, SelectedOption{Name: n, Value: v})
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Key renders the canonical identity string, e.g. "color=red;size=m".
func (o SelectedOptions) Key() string {
	if len(o) == 0 {
		return ""
	}
	var b strings.Builder
	for i, opt := range o {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(opt.Name)
		b.WriteByte('=')
		b.WriteString(opt.Value)
	}
	return b.String()
}

// Equal compares two option sets by canonical key.
func (o SelectedOptions) Equal(other SelectedOptions) bool {
	return o.Key() == other.Key()
}

// Map returns the options as a plain map for serialisation.
func (o SelectedOptions) Map() map[string]string {
	if len(o) == 0 {
		return nil
	}
	out := make(map[string]string, len(o))
	for _, opt := range o {
		out[opt.Name] = opt.Value
	}
	return out
}

// Clone returns an independent copy.
func (o SelectedOptions) Clone() SelectedOptions {
	if o == nil {
		return nil
	}
	return append(SelectedOptions(nil), o...)
}
