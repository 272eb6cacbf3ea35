package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, nil},
		{"trims and drops blanks", []string{"  foo ", "bar", "", "  "}, []string{"foo", "bar"}},
		{"keeps first occurrence order", []string{"b:9092", "a:9092", " b:9092"}, []string{"b:9092", "a:9092"}},
		{"case sensitive", []string{"Foo", "foo"}, []string{"Foo", "foo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.in))
		})
	}
}
