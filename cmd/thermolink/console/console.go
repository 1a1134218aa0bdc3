// Package console is operator command line: send commands to satellite,
// check mission status, decode MQTT state payloads.
package console

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/thermolink/cmd/thermolink/subcmd"
	"github.com/temoto/thermolink/helpers/cli"
	"github.com/temoto/thermolink/internal/ground"
	"github.com/temoto/thermolink/internal/mission"
	"github.com/temoto/thermolink/internal/state"
	"github.com/temoto/thermolink/tele"
)

const modName = "console"

var (
	Mod       = subcmd.Mod{Name: modName, Usage: "interactive operator console", Main: Main}
	SendMod   = subcmd.Mod{Name: "send", Usage: "send ARGS as one shell command to satellite", Main: SendMain}
	DecodeMod = subcmd.Mod{Name: "decode", Usage: "decode hex MQTT state payload", Main: DecodeMain}
)

var suggests = []prompt.Suggest{
	{Text: "send", Description: "run shell command on satellite"},
	{Text: "status", Description: "mission processes and latest telemetry"},
	{Text: "decode", Description: "decode hex state payload"},
	{Text: "help"},
}

type Sender interface {
	Send(ctx context.Context, command string) (string, error)
}

type Console struct {
	Out          io.Writer
	Probe        mission.Probe
	DashboardURL string
	HTTP         *http.Client
	// Sender is created on first use, satellite may be unreachable at start.
	NewSender func(ctx context.Context) (Sender, error)
}

func New(ctx context.Context, cfg *state.Config, out io.Writer) *Console {
	g := state.GetGlobal(ctx)
	return &Console{
		Out:          out,
		Probe:        mission.PidFile{Path: cfg.Mission.PidFile},
		DashboardURL: cfg.Alert.DashboardURL,
		HTTP:         &http.Client{Timeout: 3 * time.Second},
		NewSender: func(ctx context.Context) (Sender, error) {
			loc, err := ground.NewLocator(cfg, g.Log)
			if err != nil {
				return nil, err
			}
			return ground.NewCommandClient(ctx, cfg, nil, loc, g.Log)
		},
	}
}

func Main(ctx context.Context, cfg *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, cfg)
	c := New(ctx, cfg, os.Stdout)
	cli.MainLoop("thermolink", func(line string) { c.Exec(ctx, line) }, cli.Complete(suggests))
	return nil
}

func SendMain(ctx context.Context, cfg *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, cfg)
	if len(args) == 0 {
		return errors.NotValidf("send without command")
	}
	c := New(ctx, cfg, os.Stdout)
	return c.Send(ctx, strings.Join(args, " "))
}

func DecodeMain(ctx context.Context, cfg *state.Config, args []string) error {
	if len(args) != 1 {
		return errors.NotValidf("decode expects one hex argument")
	}
	c := &Console{Out: os.Stdout}
	return c.Decode(args[0])
}

// Exec reports errors to Out, console keeps running.
func (c *Console) Exec(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	word, rest := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		word, rest = line[:i], strings.TrimSpace(line[i+1:])
	}
	var err error
	switch word {
	case "":
	case "send":
		err = c.Send(ctx, rest)
	case "status":
		err = c.Status(ctx)
	case "decode":
		err = c.Decode(rest)
	case "help":
		for _, s := range suggests {
			fmt.Fprintf(c.Out, "%-8s %s\n", s.Text, s.Description)
		}
	default:
		err = errors.Errorf("unknown command '%s', try help", word)
	}
	if err != nil {
		fmt.Fprintf(c.Out, "error: %v\n", err)
	}
}

func (c *Console) Send(ctx context.Context, command string) error {
	if command == "" {
		return errors.NotValidf("empty command")
	}
	s, err := c.NewSender(ctx)
	if err != nil {
		return err
	}
	resp, err := s.Send(ctx, command)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.Out, strings.TrimRight(resp, "\n"))
	return nil
}

func (c *Console) Status(ctx context.Context) error {
	running, err := c.Probe.Running()
	switch {
	case err != nil:
		fmt.Fprintf(c.Out, "mission: unknown (%v)\n", err)
	case running:
		fmt.Fprintln(c.Out, "mission: UPLINK ACTIVE")
	default:
		fmt.Fprintln(c.Out, "mission: STANDBY")
	}

	if c.DashboardURL == "" {
		return nil
	}
	url := strings.TrimRight(c.DashboardURL, "/") + "/api/telemetry"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Annotate(err, "dashboard")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		fmt.Fprintf(c.Out, "telemetry: dashboard unreachable (%v)\n", err)
		return nil
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Annotate(err, "dashboard read")
	}
	// tele.Status marshals as text only, decode into plain strings
	var tj struct {
		Status string   `json:"status"`
		Link   string   `json:"link"`
		Addr   string   `json:"addr"`
		Max    *float32 `json:"max"`
		Frames uint64   `json:"frames"`
	}
	if err = json.Unmarshal(b, &tj); err != nil {
		return errors.Annotate(err, "dashboard decode")
	}
	max := "-"
	if tj.Max != nil {
		max = fmt.Sprintf("%.1fC", *tj.Max)
	}
	fmt.Fprintf(c.Out, "telemetry: status=%s link=%s addr=%s max=%s frames=%d\n", tj.Status, tj.Link, tj.Addr, max, tj.Frames)
	return nil
}

func (c *Console) Decode(s string) error {
	s = strings.TrimSpace(s)
	// mosquitto_sub wrongly strips leading zero in hex format
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Annotate(err, "hex decode")
	}
	st, err := tele.UnmarshalState(b)
	if err != nil {
		return errors.Annotate(err, "state decode")
	}
	fmt.Fprintln(c.Out, st.String())
	if st.Frame != nil {
		fmt.Fprintf(c.Out, "frame max=%.2f\n", st.Frame.Max())
	}
	return nil
}
