// main.go - x86 core runner: loads a program image and runs it under a
// console or the machine monitor
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"
)

const boilerPlate = "x86core - 8086 to Pentium III\n(c) 2024-2026 Zayn Otley - GPLv3 or later\n"

type commandLine struct {
	cfg     MachineConfig
	program string
}

// parseCommandLine resolves the machine configuration. Flags that were
// given override the config file, which overrides the defaults.
func parseCommandLine(args []string) (commandLine, error) {
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "", "TOML machine file")
	arch := fs.String("arch", "", "CPU generation (8086, 186, 286, 386, 486old, 486, pentium, pentium_mmx, pentium2, pentium3)")
	memKB := fs.Uint("mem", 0, "RAM size in KB")
	com := fs.Bool("com", false, "load as a DOS .COM image (implied by a .com extension)")
	flat32 := fs.Bool("flat32", false, "start in 32-bit flat protected mode")
	loadAddr := fs.String("load-addr", "", "load address (default 0x7C00)")
	entry := fs.String("entry", "", "entry address (default: load address)")
	pfMode := fs.String("page-fault-mode", "", "unwind or nested")
	monitor := fs.Bool("monitor", false, "start in the machine monitor")
	perf := fs.Bool("perf", false, "report MIPS every second")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log format (text or json)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] program.bin\n\nOptions:\n", filepath.Base(args[0]))
		fs.SetOutput(os.Stderr)
		fs.PrintDefaults()
		fs.SetOutput(io.Discard)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return commandLine{}, err
	}

	cfg := DefaultMachineConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadMachineConfig(*configPath); err != nil {
			return commandLine{}, err
		}
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "arch":
			cfg.CPU.Arch = *arch
		case "mem":
			cfg.Memory.SizeKB = uint32(*memKB)
		case "com":
			cfg.CPU.ComFile = *com
		case "flat32":
			if *flat32 {
				cfg.CPU.StartMode = "flat32"
			} else {
				cfg.CPU.StartMode = "real"
			}
		case "load-addr":
			v, err := parseAddrFlag(*loadAddr)
			if err != nil {
				flagErr = fmt.Errorf("-load-addr: %w", err)
			}
			cfg.CPU.LoadAddr = v
		case "entry":
			v, err := parseAddrFlag(*entry)
			if err != nil {
				flagErr = fmt.Errorf("-entry: %w", err)
			}
			cfg.CPU.Entry = v
		case "page-fault-mode":
			cfg.Paging.PageFaultMode = *pfMode
		case "monitor":
			cfg.Monitor.Enabled = *monitor
		case "perf":
			cfg.Perf.Enabled = *perf
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})
	if flagErr != nil {
		return commandLine{}, flagErr
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return commandLine{}, errors.New("expected exactly one program file")
	}
	program := fs.Arg(0)
	if strings.EqualFold(filepath.Ext(program), ".com") {
		cfg.CPU.ComFile = true
	}
	if err := cfg.Validate(); err != nil {
		return commandLine{}, err
	}
	return commandLine{cfg: cfg, program: program}, nil
}

// parseAddrFlag accepts decimal, 0x hex and 0 octal, and seg:off in hex.
func parseAddrFlag(v string) (uint32, error) {
	if seg, off, ok := strings.Cut(v, ":"); ok {
		s, err := strconv.ParseUint(seg, 16, 16)
		if err != nil {
			return 0, err
		}
		o, err := strconv.ParseUint(off, 16, 16)
		if err != nil {
			return 0, err
		}
		return uint32(s)<<4 + uint32(o), nil
	}
	n, err := strconv.ParseUint(v, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func main() {
	cl, err := parseCommandLine(os.Args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err := ConfigureLogging(cl.cfg.Log); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err := run(cl); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cl commandLine) error {
	runner, err := NewCPUX86Runner(cl.cfg)
	if err != nil {
		return err
	}

	out := newRawWriter(os.Stdout)
	console := NewConsoleDevice(out, runner.IRQ(), ConsoleIRQVector)
	console.Attach(runner.Ports())

	if err := runner.LoadProgram(cl.program, cl.cfg.CPU.ComFile); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cl.cfg.Monitor.Enabled {
		fmt.Print(boilerPlate)
		dbg := NewDebugX86(runner)
		mon := NewMachineMonitor(dbg, os.Stdout)
		if err := mon.ApplyConfig(cl.cfg.Monitor); err != nil {
			return err
		}
		return mon.Run(ctx, os.Stdin)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		host := NewTerminalHost(console, out, cancel)
		if err := host.Start(); err != nil {
			cpuLog.WithError(err).Warn("console input unavailable")
		} else {
			defer host.Stop()
		}
	} else {
		// Piped input is fed to the console as it arrives. The read may
		// outlive the run; the process exits anyway.
		go pumpInput(os.Stdin, console)
	}

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func pumpInput(r io.Reader, console *ConsoleDevice) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			console.EnqueueByte(b)
		}
		if err != nil {
			return
		}
	}
}
