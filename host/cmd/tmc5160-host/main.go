package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"tmcgo/core"
	"tmcgo/host/config"
	"tmcgo/protocol"
)

var (
	envFile   = flag.String("env", ".env", "Environment file to load")
	transport = flag.String("transport", "", "Override TMC_TRANSPORT (spidev, mcu, sim)")
	demo      = flag.Bool("demo", false, "Run the two-move demo on every axis and exit")
	parallel  = flag.Bool("parallel", false, "With -demo, move all axes at once")
	verbose   = flag.Bool("verbose", false, "Log every register transaction")
)

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	if level == "off" || level == "none" {
		log.SetOutput(io.Discard)
	} else {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		log.SetLevel(lvl)
		log.SetOutput(os.Stderr)
	}
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return log
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if *transport != "" {
		cfg.Transport = strings.ToLower(*transport)
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	log := newLogger(cfg.LogLevel)
	core.SetLogger(log)
	log.WithFields(logrus.Fields{
		"version":   protocol.Version,
		"transport": cfg.Transport,
		"axes":      len(cfg.Axes),
	}).Info("tmc5160-host starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := openRig(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("cannot open transport")
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.WithError(err).Warn("close")
		}
	}()

	for _, a := range r.axes {
		if err := a.Setup(cfg.Profile); err != nil {
			log.WithError(err).WithField("axis", a.Name()).Error("setup failed")
			return
		}
	}

	if *demo {
		if err := runDemo(ctx, r, cfg, log, *parallel); err != nil {
			log.WithError(err).Error("demo failed")
		}
		return
	}

	sh := &shell{rig: r, cfg: cfg, out: os.Stdout}
	if err := sh.run(ctx, os.Stdin); err != nil {
		log.WithError(err).Error("input")
	}
}

var demoTargets = []int32{102400, -51200}

// runDemo moves each axis through the demo targets one after another, or
// all axes together with parallel.
func runDemo(ctx context.Context, r *rig, cfg *config.Config, log logrus.FieldLogger, parallel bool) error {
	if !parallel {
		for _, a := range r.axes {
			for _, target := range demoTargets {
				res, err := a.MoveAbsolute(ctx, target, true)
				if err != nil {
					return fmt.Errorf("axis %s: %w", a.Name(), err)
				}
				report(log, a, target, res)
			}
		}
		return nil
	}

	for _, target := range demoTargets {
		for _, a := range r.axes {
			if _, err := a.MoveAbsolute(ctx, target, false); err != nil {
				return fmt.Errorf("axis %s: %w", a.Name(), err)
			}
		}
		results, err := core.WaitMoves(ctx, cfg.PollInterval, r.axes...)
		if err != nil {
			return err
		}
		for i, res := range results {
			report(log, r.axes[i], target, res)
		}
	}
	return nil
}

func report(log logrus.FieldLogger, a *core.TMC5160, target int32, res core.MoveResult) {
	entry := log.WithFields(logrus.Fields{
		"axis":    a.Name(),
		"target":  target,
		"outcome": res.Outcome.String(),
		"polls":   res.Polls,
	})
	pos, err := a.Position()
	if err != nil {
		entry.WithError(err).Warn("move finished, position unknown")
		return
	}
	entry.WithField("position", pos).Info("move finished")
}

type shell struct {
	rig *rig
	cfg *config.Config
	out io.Writer
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" || fields[0] == "q" {
			return nil
		}
		if err := s.exec(ctx, fields[0], fields[1:]); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (s *shell) exec(ctx context.Context, cmd string, args []string) error {
	if cmd == "help" || cmd == "?" {
		s.help()
		return nil
	}
	if cmd == "dict" {
		if s.rig.mcu == nil {
			return fmt.Errorf("dict needs the mcu transport")
		}
		return s.rig.mcu.WriteSummary(s.out)
	}
	if cmd == "wait" {
		results, err := core.WaitMoves(ctx, s.cfg.PollInterval, s.rig.axes...)
		for i, res := range results {
			fmt.Fprintf(s.out, "%s: %s after %d polls\n", s.rig.axes[i].Name(), res.Outcome, res.Polls)
		}
		return err
	}

	if len(args) == 0 {
		return fmt.Errorf("%s: missing axis", cmd)
	}
	a, err := s.rig.axis(args[0])
	if err != nil {
		return err
	}
	args = args[1:]

	switch cmd {
	case "setup":
		return a.Setup(s.cfg.Profile)
	case "move":
		if len(args) < 1 {
			return fmt.Errorf("usage: move <axis> <target> [nowait]")
		}
		target, err := strconv.ParseInt(args[0], 0, 32)
		if err != nil {
			return err
		}
		blocking := len(args) < 2 || args[1] != "nowait"
		res, err := a.MoveAbsolute(ctx, int32(target), blocking)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s after %d polls, status %s\n", res.Outcome, res.Polls, res.Flags)
	case "pos":
		pos, err := a.Position()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%d\n", pos)
	case "zero":
		return a.SetPosition(0)
	case "enc":
		v, err := a.ReadEncoder()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%d\n", v)
	case "setenc":
		if len(args) < 1 {
			return fmt.Errorf("usage: setenc <axis> <value>")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		return a.SetEncoder(v)
	case "flags":
		fmt.Fprintf(s.out, "%s\n", a.Flags())
	case "gstat":
		v, err := a.GlobalStatus()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "0x%X\n", v)
	case "read":
		if len(args) < 1 {
			return fmt.Errorf("usage: read <axis> <reg>")
		}
		reg, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return err
		}
		v, flags, err := a.Read(protocol.Register(reg))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%d (0x%08X) status %s\n", v, uint32(v), flags)
	case "write":
		if len(args) < 2 {
			return fmt.Errorf("usage: write <axis> <reg> <value>")
		}
		reg, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return err
		}
		v, err := strconv.ParseInt(args[1], 0, 64)
		if err != nil {
			return err
		}
		flags, err := a.Write(protocol.Register(reg), v)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "status %s\n", flags)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
	return nil
}

func (s *shell) help() {
	fmt.Fprintln(s.out, `
Available commands:
  setup <axis>                 - Re-run setup with the configured profile
  move <axis> <pos> [nowait]   - Move to an absolute position
  wait                         - Wait for every axis to finish its move
  pos <axis>                   - Read XACTUAL
  zero <axis>                  - Reset position and target to 0
  enc <axis>                   - Read the encoder
  setenc <axis> <value>        - Load the encoder counter
  flags <axis>                 - Status of the last transaction
  gstat <axis>                 - Read GSTAT
  read <axis> <reg>            - Read a register
  write <axis> <reg> <value>   - Write a register
  dict                         - Print the MCU dictionary (mcu transport)
  quit/exit/q                  - Exit the program`)
}
