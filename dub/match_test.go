package dub

import (
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	type test struct {
		input string
		ids   []int
		want  []int
	}
	tests := []test{
		{input: "'*", ids: []int{1, 2, 5}, want: []int{1, 2, 5}},
		{input: "'2", ids: []int{1, 2, 3}, want: []int{2}},
		{input: "'1,3", ids: []int{1, 2, 3, 4}, want: []int{1, 3}},
		{input: "'2:4", ids: []int{1, 2, 3, 4, 5}, want: []int{2, 3, 4}},
		{input: "'1,4:5", ids: []int{5, 4, 3, 2, 1}, want: []int{5, 4, 1}},
		{input: "'7", ids: []int{1, 2}, want: nil},
	}
	for _, test := range tests {
		cmd, err := Parse("x " + test.input)
		if err != nil {
			t.Fatalf("%s: %v", test.input, err)
		}
		expr, ok := cmd.Args[0].(MatchExpr)
		if !ok {
			t.Fatalf("%s: want MatchExpr, got %T", test.input, cmd.Args[0])
		}
		got := expr.Select(test.ids)
		if !reflect.DeepEqual(test.want, got) {
			t.Errorf("%s: want %v, got %v", test.input, test.want, got)
		}
	}
}

func TestMatchRangeBounds(t *testing.T) {
	r := rangeMatch{start: 2, end: 3}
	for i, want := range map[int]bool{1: false, 2: true, 3: true, 4: false} {
		if got := r.match(i); got != want {
			t.Errorf("match(%d): want %v, got %v", i, want, got)
		}
	}
	if !matchAll.match(-100) || !matchAll.match(1<<20) {
		t.Error("matchAll should match everything")
	}
}
