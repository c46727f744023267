package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsSuspicious(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"12 High Street", false},
		{"<img src=x>", true},
		{"${jndi:ldap}", true},
		{"{{7*7}}", true},
		{"Jane <b>", true},
		{"O'Brien", false},
		{"4 Scripture Lane", false},
		{"Postscript House, 1 Onload Rd", false},
		{"Onerror Street", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsSuspicious(tt.in), tt.in)
	}
}

func TestIsSafeIdentifier(t *testing.T) {
	assert.True(t, IsSafeIdentifier("3f2a-99_b"))
	assert.False(t, IsSafeIdentifier(""))
	assert.False(t, IsSafeIdentifier("../etc"))
	assert.False(t, IsSafeIdentifier("a/b"))
}
