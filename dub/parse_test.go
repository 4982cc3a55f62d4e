package dub

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	type test struct {
		input string
		want  Command
	}
	tests := []test{
		{
			input: "arm '1",
			want: Command{
				Name: Identifier("arm"),
				Args: []Node{
					MatchExpr{matchers: []matcher{listMatch{1}}},
				},
			},
		},
		{
			input: "clear '*",
			want: Command{
				Name: Identifier("clear"),
				Args: []Node{
					MatchExpr{matchers: []matcher{matchAll}},
				},
			},
		},
		{
			input: "filter '1,3:4 9",
			want: Command{
				Name: Identifier("filter"),
				Args: []Node{
					MatchExpr{matchers: []matcher{listMatch{1}, rangeMatch{start: 3, end: 4}}},
					Int(9),
				},
			},
		},
		{
			input: "note 60 100 0.5",
			want: Command{
				Name: Identifier("note"),
				Args: []Node{Int(60), Int(100), Float(0.5)},
			},
		},
		{
			input: "arm '2 off",
			want: Command{
				Name: Identifier("arm"),
				Args: []Node{
					MatchExpr{matchers: []matcher{listMatch{2}}},
					Identifier("off"),
				},
			},
		},
		{
			input: `save "songs/a \"b\".yaml"`,
			want: Command{
				Name: Identifier("save"),
				Args: []Node{String(`songs/a "b".yaml`)},
			},
		},
		{
			input: `load ""`,
			want: Command{
				Name: Identifier("load"),
				Args: []Node{String("")},
			},
		},
		{
			input: "status",
			want:  Command{Name: Identifier("status")},
		},
	}
	for _, test := range tests {
		t.Log(test.input)
		got, err := Parse(test.input)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(test.want, got) {
			t.Errorf("\nwant: %+v\ngot:  %+v", test.want, got)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"1 2",
		"arm '",
		"arm ',",
		"arm '1,",
		"arm '1:",
		"arm '1:*",
		"arm '4:2",
		"arm :",
	} {
		if _, err := Parse(input); err == nil {
			t.Errorf("expected error for input: %q", input)
		}
	}
}
