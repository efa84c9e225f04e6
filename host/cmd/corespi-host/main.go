package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/shlex"

	"corespi/core"
	"corespi/host/client"
	"corespi/host/serial"
)

var (
	device     = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud       = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	configPath = flag.String("config", "", "Controller config JSON (simulator only)")
	useSim     = flag.Bool("sim", false, "Talk to a simulated controller instead of a serial device")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
	timeout    = flag.Duration("timeout", 2*time.Second, "Per-command timeout")
)

func main() {
	flag.Parse()

	if *verbose {
		core.SetLogLevel(slog.LevelDebug)
	}

	conn, err := connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	c := client.New(conn)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = c.Identify(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}
	printDictionary(c)

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	lines := newLineReader()
	defer lines.Close()
	for {
		text, err := lines.ReadLine()
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			os.Exit(1)
		}

		args, err := shlex.Split(text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" || args[0] == "q" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		err = run(ctx, c, args[0], args[1:])
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func connect() (io.ReadWriteCloser, error) {
	if *useSim {
		cfg := &core.Config{}
		if *configPath != "" {
			data, err := os.ReadFile(*configPath)
			if err != nil {
				return nil, err
			}
			if cfg, err = core.LoadConfig(data); err != nil {
				return nil, fmt.Errorf("config %s: %w", *configPath, err)
			}
		}
		fmt.Println("Starting simulated controller")
		return startSim(*cfg)
	}

	fmt.Printf("Connecting to %s...\n", *device)
	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	return serial.Open(cfg)
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		printHelp()

	case "dict":
		printDictionary(c)

	case "config":
		if len(args) < 2 {
			return fmt.Errorf("usage: config OID CS [high]")
		}
		oid, cs, err := parseOIDAnd(args)
		if err != nil {
			return err
		}
		return c.ConfigSPI(ctx, oid, uint8(cs), len(args) > 2 && args[2] == "high")

	case "bus":
		if len(args) != 3 {
			return fmt.Errorf("usage: bus OID MODE RATE")
		}
		oid, mode, err := parseOIDAnd(args)
		if err != nil {
			return err
		}
		rate, err := strconv.ParseUint(args[2], 0, 32)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		return c.SetBus(ctx, oid, core.Mode(mode), uint32(rate))

	case "xfer", "send", "shutdown":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s OID HEX", cmd)
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("data: %w", err)
		}
		switch cmd {
		case "send":
			return c.Send(ctx, oid, data)
		case "shutdown":
			return c.ConfigShutdown(ctx, oid, data)
		}
		rx, err := c.Transfer(ctx, oid, data)
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(rx))

	case "faults":
		faults, err := c.Faults(ctx)
		if err != nil {
			return err
		}
		if len(faults) == 0 {
			fmt.Println("No faults recorded")
		}
		for _, f := range faults {
			fmt.Printf("  %s seq=%d rx_left=%d tx_left=%d\n", f.Kind, f.Seq, f.RxLen, f.TxLen)
		}

	case "clear":
		return c.ClearFaults(ctx)

	case "stats":
		st, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("  transfers=%d fills=%d drains=%d tx=%d rx=%d overflows=%d underruns=%d unhandled=%d\n",
			st.Transfers, st.FillBursts, st.DrainBursts, st.BytesTx, st.BytesRx,
			st.Overflows, st.Underruns, st.Unhandled)

	case "stop":
		return c.EmergencyStop(ctx)

	case "call":
		if len(args) == 0 {
			return fmt.Errorf("usage: call NAME [ARG...]")
		}
		return rawCall(ctx, c, args[0], args[1:])

	default:
		return fmt.Errorf("unknown command %s (type 'help' for available commands)", cmd)
	}
	return nil
}

// rawCall sends any dictionary command. Arguments that parse as integers are
// sent as integers, everything else as hex bytes.
func rawCall(ctx context.Context, c *client.Client, name string, args []string) error {
	values := make([]any, len(args))
	for i, a := range args {
		if n, err := strconv.ParseInt(a, 0, 64); err == nil {
			values[i] = n
			continue
		}
		b, err := hex.DecodeString(a)
		if err != nil {
			return fmt.Errorf("argument %d: not an integer or hex string", i+1)
		}
		values[i] = b
	}

	resps, err := c.Call(ctx, name, values...)
	for _, r := range resps {
		fmt.Printf("  %s", r.Name)
		keys := make([]string, 0, len(r.Args))
		for k := range r.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v := r.Args[k].(type) {
			case []byte:
				fmt.Printf(" %s=%s", k, hex.EncodeToString(v))
			default:
				fmt.Printf(" %s=%v", k, v)
			}
		}
		fmt.Println()
	}
	return err
}

func parseOID(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("oid: %w", err)
	}
	return uint8(v), nil
}

func parseOIDAnd(args []string) (uint8, uint64, error) {
	oid, err := parseOID(args[0])
	if err != nil {
		return 0, 0, err
	}
	v, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("argument 2: %w", err)
	}
	return oid, v, nil
}

func printDictionary(c *client.Client) {
	dict := c.Dictionary()
	fmt.Printf("\nFirmware %s (%s)\n", dict.Version, dict.BuildVersions)

	fmt.Println("Constants:")
	for _, k := range sortedKeys(dict.Config) {
		fmt.Printf("  %s = %s\n", k, dict.Config[k])
	}
	fmt.Println("Commands:")
	for _, k := range sortedKeys(dict.Commands) {
		fmt.Printf("  %3d  %s\n", dict.Commands[k], k)
	}
	fmt.Println("Responses:")
	for _, k := range sortedKeys(dict.Responses) {
		fmt.Printf("  %3d  %s\n", dict.Responses[k], k)
	}
	fmt.Println()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help                  - Show this help message")
	fmt.Println("  dict                  - Print the data dictionary")
	fmt.Println("  config OID CS [high]  - Bind OID to a chip select")
	fmt.Println("  bus OID MODE RATE     - Set SPI mode and clock for OID")
	fmt.Println("  xfer OID HEX          - Transfer bytes and print the reply")
	fmt.Println("  send OID HEX          - Send bytes, discard the reply")
	fmt.Println("  shutdown OID HEX      - Set the emergency stop message for OID")
	fmt.Println("  faults                - Print the fault ring")
	fmt.Println("  clear                 - Clear the fault ring")
	fmt.Println("  stats                 - Print controller counters")
	fmt.Println("  stop                  - Emergency stop")
	fmt.Println("  call NAME [ARG...]    - Send any dictionary command")
	fmt.Println("  quit/exit/q           - Exit the program")
	fmt.Println()
}
