package main

import (
	"fmt"
	"os"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
	"github.com/temoto/thermolink/cmd/thermolink/console"
	"github.com/temoto/thermolink/cmd/thermolink/daemon"
	"github.com/temoto/thermolink/cmd/thermolink/subcmd"
	"github.com/temoto/thermolink/internal/state"
	"github.com/temoto/thermolink/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	daemon.SatelliteMod,
	daemon.GroundMod,
	console.Mod,
	console.SendMod,
	console.DecodeMod,
}

func main() {
	flags := flag.NewFlagSet("thermolink", flag.ContinueOnError)
	configPath := flags.String("config", "thermolink.hcl", "config file")
	envPath := flags.String("env", ".env", "dotenv file with secrets, missing is ok")
	debug := flags.Bool("debug", false, "debug logging")
	version := flags.Bool("version", false, "print version and exit")
	flags.SetInterspersed(false)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: thermolink [flags] command [args]\n")
		flags.PrintDefaults()
		subcmd.PrintUsage(os.Stderr, modules)
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}

	log := log2.NewStderr(log2.LInfo)
	if *debug {
		log.SetLevel(log2.LDebug)
	}
	if subcmd.SdNotify("start") {
		// under systemd journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	mod, err := subcmd.Parse(flags.Arg(0), modules)
	if err != nil {
		log.Error(err)
		flags.Usage()
		os.Exit(2)
	}

	if err := state.LoadDotenv(*envPath); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	fs := state.NewOsFullReader()
	config := state.MustReadConfig(log, fs, *configPath)
	if *debug {
		config.LogDebug = true
	}

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	g.HandleSignals()
	if err := mod.Main(ctx, config, flags.Args()[1:]); err != nil {
		g.Fatal(err, "%s", mod.Name)
	}
}
