package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/etnz/debmeta/internal/log"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

const userAgent = "debmeta"

type options struct {
	Verbose []bool `short:"v" long:"verbose" description:"Log progress to stderr, twice for debug output"`
	LogJSON bool   `long:"log-json" description:"Log as JSON lines"`
}

var opts options

type commandInfo struct {
	name, shortHelp, longHelp string
	builder                   func() flags.Commander
	optDescs                  map[string]string
}

var commands []*commandInfo

func addCommand(name, shortHelp, longHelp string, builder func() flags.Commander, optDescs map[string]string) *commandInfo {
	info := &commandInfo{
		name:      name,
		shortHelp: shortHelp,
		longHelp:  longHelp,
		builder:   builder,
		optDescs:  optDescs,
	}
	commands = append(commands, info)
	return info
}

// ErrExtraArgs is returned when a command gets more positional arguments than it takes.
var ErrExtraArgs = fmt.Errorf("too many arguments for command")

// runner is implemented by commands that honour cancellation.
type runner interface {
	run(ctx context.Context, args []string) error
}

// Parser creates and populates a fresh parser.
func Parser() *flags.Parser {
	opts = options{}
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "Read Debian package metadata without downloading packages"
	for _, c := range commands {
		cmd, err := parser.AddCommand(c.name, c.shortHelp, strings.TrimSpace(c.longHelp), c.builder())
		if err != nil {
			panic(fmt.Sprintf("cannot add command %q: %v", c.name, err))
		}
		for _, opt := range cmd.Options() {
			name := opt.LongName
			if name == "" {
				name = string(opt.ShortName)
			}
			desc, ok := c.optDescs[name]
			if !ok {
				panic(fmt.Sprintf("%s command option %q has no description", c.name, name))
			}
			opt.Description = desc
		}
	}
	return parser
}

func run(ctx context.Context, args []string) error {
	parser := Parser()
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		log.Set(newLogger())
		if r, ok := cmd.(runner); ok {
			return r.run(ctx, args)
		}
		return cmd.Execute(args)
	}
	_, err := parser.ParseArgs(args)
	return err
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(Stderr)
	switch len(opts.Verbose) {
	case 0:
		l.SetLevel(logrus.WarnLevel)
	case 1:
		l.SetLevel(logrus.InfoLevel)
	default:
		l.SetLevel(logrus.DebugLevel)
	}
	if opts.LogJSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableColors: !isTerminal(Stderr)})
	}
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(Stdout, ferr.Message)
			return
		}
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
