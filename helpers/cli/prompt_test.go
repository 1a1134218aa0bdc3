package cli

import (
	"strings"
	"testing"

	"github.com/c-bata/go-prompt"
	"github.com/stretchr/testify/assert"
)

func TestExecLines(t *testing.T) {
	t.Parallel()
	var got []string
	ExecLines(strings.NewReader("status\n\n  send uptime \ndecode 0802\n"), func(line string) { got = append(got, line) })
	assert.Equal(t, []string{"status", "send uptime", "decode 0802"}, got)
}

func TestComplete(t *testing.T) {
	t.Parallel()
	f := Complete([]prompt.Suggest{{Text: "send"}, {Text: "status"}, {Text: "decode"}})
	b := prompt.NewBuffer()
	b.InsertText("s", false, true)
	got := f(*b.Document())
	assert.Len(t, got, 2)
	b.InsertText("end x", false, true)
	assert.Nil(t, f(*b.Document()))
}
