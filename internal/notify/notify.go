// Package notify delivers fire alerts to operators.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/thermolink/helpers"
)

type Message struct {
	ID         string
	Subject    string
	Body       string
	Max        float32
	Time       time.Time
	Recipients []string
	Dashboard  string
}

func (m *Message) String() string {
	return fmt.Sprintf("(id=%s subject=%q max=%.2f recipients=%d)", m.ID, m.Subject, m.Max, len(m.Recipients))
}

type Notifier interface {
	Notify(ctx context.Context, m *Message) error
}

// Failure wraps delivery error with notifier name.
type Failure struct {
	Via string
	Err error
}

func (f *Failure) Error() string { return fmt.Sprintf("notify via=%s: %v", f.Via, f.Err) }
func (f *Failure) Cause() error  { return f.Err }

func IsFailure(err error) bool {
	_, ok := errors.Cause(err).(*Failure)
	return ok
}

// Multi sends to every notifier, errors are folded.
type Multi []Notifier

func (ms Multi) Notify(ctx context.Context, m *Message) error {
	errs := make([]error, 0, len(ms))
	for _, n := range ms {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return helpers.FoldErrors(errs)
}

type Func func(ctx context.Context, m *Message) error

func (f Func) Notify(ctx context.Context, m *Message) error { return f(ctx, m) }
