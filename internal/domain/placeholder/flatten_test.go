package placeholder

import (
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"mixed", []string{"1", "(2, 3)", "4"}, []string{"1", "2", "3", "4"}},
		{"flat", []string{"1", "2", "3"}, []string{"1", "2", "3"}},
		{"all groups", []string{"(1, 2)", "(3, 4)"}, []string{"1", "2", "3", "4"}},
		{"whitespace and empties", []string{" 7 ", "", "( 8 ,, 9 )", "()"}, []string{"7", "8", "9"}},
		{"nested", []string{"((1, 2), 3)"}, []string{"1", "2", "3"}},
		{"not a single pair", []string{"(1), (2)"}, []string{"(1), (2)"}},
		{"nil", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Flatten(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Flatten(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := Flatten(got); !reflect.DeepEqual(again, got) {
				t.Errorf("Flatten is not idempotent: %q -> %q", got, again)
			}
		})
	}
}
