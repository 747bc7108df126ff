package vdir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsItem(t *testing.T) {
	cases := map[string]bool{
		"event.ics":            true,
		"/data/work/event.ics": true,
		"event.ics.tmp":        false,
		"color":                false,
		"noextension":          false,
		"event.vcf":            false,
		".hidden.ics":          true,
		"event.ICS":            false,
	}
	for name, want := range cases {
		assert.Equal(t, want, IsItem(name), name)
	}
}

func TestIsMetadata(t *testing.T) {
	for _, name := range []string{"color", "displayname", "description", "order"} {
		assert.True(t, IsMetadata(name), name)
	}
	for _, name := range []string{"colors", "Color", "order.txt", "event.ics", "", "displayname~"} {
		assert.False(t, IsMetadata(name), name)
	}
}
