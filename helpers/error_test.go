package helpers

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()
	nf := errors.NotFoundf("satellite")
	cases := []struct {
		name   string
		input  []error
		expect string
	}{
		{"empty", nil, ""},
		{"nils", []error{nil, nil}, ""},
		{"one", []error{nil, nf}, "satellite not found"},
		{"many", []error{errors.New("a"), nil, errors.New("100%s")}, "a\n100%s"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			err := FoldErrors(c.input)
			if c.expect == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, c.expect)
			}
		})
	}
	assert.True(t, errors.IsNotFound(FoldErrors([]error{nf})))
}
