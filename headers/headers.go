// Package headers implements HeadersContainer (spec.md §3, §4.1): a
// case-insensitive, multi-valued header store with HTTP-specific merge
// rules. It is grounded on the teacher's hdr.Header (itself a port of
// net/http's Header map) but departs from it where the spec departs from
// net/http: first-insertion casing is preserved instead of canonicalizing
// to the textbook Mime-Header-Case, Set-Cookie never merges, and a fixed
// set of singleton headers silently discard duplicate appends with a
// warning instead of comma-joining them.
package headers

import (
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/badu/nio-http/logging"
)

// singletons is the fixed set of headers that discard duplicate appends
// instead of merging (spec.md §3).
var singletons = map[string]bool{
	"content-type":        true,
	"content-length":      true,
	"user-agent":          true,
	"referer":             true,
	"host":                true,
	"authorization":       true,
	"proxy-authorization": true,
	"if-modified-since":   true,
	"if-unmodified-since": true,
	"from":                true,
	"location":            true,
	"max-forwards":        true,
	"retry-after":         true,
	"etag":                true,
	"last-modified":       true,
	"server":              true,
	"age":                 true,
	"expires":             true,
}

const setCookieLower = "set-cookie"

type entry struct {
	name   string // first-seen casing
	values []string
}

// Container is HeadersContainer. The zero value is not usable; use New.
type Container struct {
	order []string // lowercased keys, insertion order
	data  map[string]*entry
	log   logging.Logger
}

// New returns an empty Container.
func New() *Container {
	return &Container{
		data: make(map[string]*entry),
		log:  logging.Default("headers"),
	}
}

// WithLogger overrides the logger used for merge-rule warnings.
func (c *Container) WithLogger(l logging.Logger) *Container {
	c.log = l
	return c
}

func lower(name string) string { return strings.ToLower(name) }

// Get returns the values for name, or nil if absent. Lookup is
// case-insensitive.
func (c *Container) Get(name string) []string {
	e, ok := c.data[lower(name)]
	if !ok {
		return nil
	}
	return e.values
}

// GetFirst returns the first value for name, or "" if absent.
func (c *Container) GetFirst(name string) string {
	v := c.Get(name)
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Has reports whether name has any recorded value.
func (c *Container) Has(name string) bool {
	_, ok := c.data[lower(name)]
	return ok
}

// Set replaces all values for name with values, preserving the
// first-seen casing of name if it was already present, or adopting the
// casing of this call if it is new.
func (c *Container) Set(name string, values []string) {
	key := lower(name)
	if e, ok := c.data[key]; ok {
		e.values = append([]string(nil), values...)
		return
	}
	c.data[key] = &entry{name: name, values: append([]string(nil), values...)}
	c.order = append(c.order, key)
}

// SetOne is shorthand for Set(name, []string{value}).
func (c *Container) SetOne(name, value string) {
	c.Set(name, []string{value})
}

// Append adds one value for name, applying the merge rules of spec.md §3:
// Set-Cookie always gets its own list entry; the fixed singleton headers
// silently discard the duplicate (logging a warning) once a value is
// already present; every other header is coalesced into a single
// comma-separated value.
func (c *Container) Append(name, value string) {
	if name == "" {
		return
	}
	if !httpguts.ValidHeaderFieldName(name) {
		c.log.WithField("header", name).Warnf("discarding header append with invalid field name")
		return
	}
	key := lower(name)
	e, exists := c.data[key]
	if !exists {
		c.data[key] = &entry{name: name, values: []string{value}}
		c.order = append(c.order, key)
		return
	}

	switch {
	case key == setCookieLower:
		e.values = append(e.values, value)
	case singletons[key]:
		c.log.WithFields(logging.Fields{"header": e.name, "discarded": value}).
			Warnf("duplicate append to singleton header discarded")
	default:
		if len(e.values) == 0 {
			e.values = []string{value}
		} else {
			e.values[0] = e.values[0] + ", " + value
			e.values = e.values[:1]
		}
	}
}

// AppendAll appends every value in values for name, applying the same
// per-call merge rules as Append (i.e. it is not a single atomic
// multi-value insert: each value is merged independently).
func (c *Container) AppendAll(name string, values []string) {
	for _, v := range values {
		c.Append(name, v)
	}
}

// Remove deletes all values for name (case-insensitive).
func (c *Container) Remove(name string) {
	key := lower(name)
	if _, ok := c.data[key]; !ok {
		return
	}
	delete(c.data, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear removes every header.
func (c *Container) Clear() {
	c.data = make(map[string]*entry)
	c.order = nil
}

// Len reports the number of distinct header names.
func (c *Container) Len() int { return len(c.order) }

// Range calls fn for every (name, values) pair in insertion order, using
// the first-seen casing of each name. Iteration stops early if fn
// returns false.
func (c *Container) Range(fn func(name string, values []string) bool) {
	for _, key := range c.order {
		e := c.data[key]
		if e == nil {
			continue
		}
		if !fn(e.name, e.values) {
			return
		}
	}
}

// Clone returns a deep copy.
func (c *Container) Clone() *Container {
	out := New()
	out.log = c.log
	c.Range(func(name string, values []string) bool {
		cp := append([]string(nil), values...)
		out.data[lower(name)] = &entry{name: name, values: cp}
		out.order = append(out.order, lower(name))
		return true
	})
	return out
}
