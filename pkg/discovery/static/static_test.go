package static

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
    cases := map[string][]string{
        "":                            nil,
        "10.0.0.1:7946":               {"10.0.0.1:7946"},
        " 10.0.0.1:7946 , node2:7946": {"10.0.0.1:7946", "node2:7946"},
        ",,node1:7946, ,node2:7946,":  {"node1:7946", "node2:7946"},
    }
    for in, want := range cases {
        assert.Equal(t, want, Parse(in), "input %q", in)
    }
}

func TestNewDropsBlanksAndCopies(t *testing.T) {
    d := New(" node1:7946 ", "", "node2:7946")
    got := d.Seeds()
    assert.Equal(t, []string{"node1:7946", "node2:7946"}, got)

    got[0] = "mutated"
    assert.Equal(t, "node1:7946", d.Seeds()[0])
}
