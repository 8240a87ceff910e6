package headers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/badu/nio-http/headers"
)

func TestSetGetRoundTrip(t *testing.T) {
	c := headers.New()
	c.Set("X-Trace", []string{"abc"})
	assert.Equal(t, []string{"abc"}, c.Get("x-trace"))
	assert.Equal(t, "abc", c.GetFirst("X-TRACE"))
}

func TestSingletonDiscardsDuplicate(t *testing.T) {
	c := headers.New()
	c.Append("Content-Type", "text/plain")
	c.Append("Content-Type", "application/json")
	assert.Equal(t, []string{"text/plain"}, c.Get("content-type"))
}

func TestSetCookiePreservesEveryValue(t *testing.T) {
	c := headers.New()
	c.Append("Set-Cookie", "a=1")
	c.Append("Set-Cookie", "b=2")
	c.Append("Set-Cookie", "c=3")
	assert.Equal(t, []string{"a=1", "b=2", "c=3"}, c.Get("set-cookie"))
}

func TestFreeFormHeaderCoalesces(t *testing.T) {
	c := headers.New()
	c.Append("X-Custom", "one")
	c.Append("X-Custom", "two")
	assert.Equal(t, []string{"one, two"}, c.Get("x-custom"))
}

func TestFirstInsertionCasingPreserved(t *testing.T) {
	c := headers.New()
	c.Append("x-custom", "one")
	c.Append("X-CUSTOM", "two")
	var seenName string
	c.Range(func(name string, values []string) bool {
		if name != "" {
			seenName = name
		}
		return true
	})
	assert.Equal(t, "x-custom", seenName)
}

func TestRemoveIsCaseInsensitive(t *testing.T) {
	c := headers.New()
	c.SetOne("Host", "example.com")
	c.Remove("HOST")
	assert.False(t, c.Has("host"))
}

func TestIterationOrderIsInsertionOrder(t *testing.T) {
	c := headers.New()
	c.SetOne("Zebra", "1")
	c.SetOne("Apple", "2")
	c.SetOne("Mango", "3")

	var order []string
	c.Range(func(name string, _ []string) bool {
		order = append(order, name)
		return true
	})
	assert.Equal(t, []string{"Zebra", "Apple", "Mango"}, order)
}

func TestCloneIsIndependent(t *testing.T) {
	c := headers.New()
	c.SetOne("X-A", "1")
	clone := c.Clone()
	clone.SetOne("X-A", "2")
	assert.Equal(t, "1", c.GetFirst("X-A"))
	assert.Equal(t, "2", clone.GetFirst("X-A"))
}
