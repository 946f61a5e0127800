package cfgparser

import (
	"os"
	"reflect"
	"strings"
	"testing"
)

func readCfg(t *testing.T, input string) ([]Node, error) {
	t.Helper()
	return Read(strings.NewReader(input), "test")
}

// stripLocation zeroes the File/Line fields to make tree comparison
// practical.
func stripLocation(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	res := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		n.File = ""
		n.Line = 0
		n.Children = stripLocation(n.Children)
		res = append(res, n)
	}
	return res
}

func TestRead(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    []Node
		wantErr bool
	}{
		{
			name:  "directive without args",
			input: "a",
			want:  []Node{{Name: "a"}},
		},
		{
			name:  "directive with args",
			input: "a arg1 arg2",
			want:  []Node{{Name: "a", Args: []string{"arg1", "arg2"}}},
		},
		{
			name:  "quoted argument",
			input: `a "arg1 arg2"`,
			want:  []Node{{Name: "a", Args: []string{"arg1 arg2"}}},
		},
		{
			name:  "multiple directives",
			input: "a arg1\nb arg2",
			want: []Node{
				{Name: "a", Args: []string{"arg1"}},
				{Name: "b", Args: []string{"arg2"}},
			},
		},
		{
			name:  "empty block",
			input: "a { }",
			want:  []Node{{Name: "a", Children: []Node{}}},
		},
		{
			name:  "block with directives",
			input: "a {\n  b arg1\n  c arg2\n}",
			want: []Node{{Name: "a", Children: []Node{
				{Name: "b", Args: []string{"arg1"}},
				{Name: "c", Args: []string{"arg2"}},
			}}},
		},
		{
			name:  "nested block",
			input: "a {\n  b {\n    c\n  }\n}",
			want: []Node{{Name: "a", Children: []Node{
				{Name: "b", Children: []Node{
					{Name: "c"},
				}},
			}}},
		},
		{
			name:  "line continuation",
			input: "a arg1 \\\n  arg2",
			want:  []Node{{Name: "a", Args: []string{"arg1", "arg2"}}},
		},
		{
			name:  "comment",
			input: "a arg1 # comment here\nb",
			want: []Node{
				{Name: "a", Args: []string{"arg1"}},
				{Name: "b"},
			},
		},
		{
			name:  "snippet expansion",
			input: "(snip) {\n  b arg\n}\na {\n  import snip\n}",
			want: []Node{{Name: "a", Children: []Node{
				{Name: "b", Args: []string{"arg"}},
			}}},
		},
		{
			name:    "unbalanced closing brace",
			input:   "a {\n}\n}",
			wantErr: true,
		},
		{
			name:    "unbalanced opening brace",
			input:   "a {\nb",
			wantErr: true,
		},
		{
			name:    "snippet with arguments",
			input:   "(snip) arg {\n}",
			wantErr: true,
		},
		{
			name:    "missing import target",
			input:   "import no_such_snippet_or_file",
			wantErr: true,
		},
		{
			name:    "digit-starting directive",
			input:   "1abc",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			nodes, err := readCfg(t, tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", nodes)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			nodes = stripLocation(nodes)
			if !reflect.DeepEqual(nodes, tc.want) {
				t.Errorf("wrong tree parsed\nwant %+v\ngot  %+v", tc.want, nodes)
			}
		})
	}
}

func TestRead_EnvExpansion(t *testing.T) {
	os.Setenv("EMLPROBE_TEST_VAR", "value1")
	defer os.Unsetenv("EMLPROBE_TEST_VAR")

	nodes, err := readCfg(t, "a {env:EMLPROBE_TEST_VAR} {env:EMLPROBE_TEST_UNDEFINED}")
	if err != nil {
		t.Fatal(err)
	}
	want := []Node{{Name: "a", Args: []string{"value1", ""}}}
	if !reflect.DeepEqual(stripLocation(nodes), want) {
		t.Errorf("wrong tree parsed\nwant %+v\ngot  %+v", want, nodes)
	}
}
