// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/lumberbarons/modbus"
)

func main() {
	app := &cli.App{
		Name:  "modbus-cli",
		Usage: "Command-line tool for Modbus communication",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Optional config file (yaml/json/toml, viper-loaded) overriding defaults",
			},
			&cli.StringFlag{
				Name:     "protocol",
				Aliases:  []string{"p"},
				Usage:    "Protocol type: tcp, rtu, or ascii",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Connection address (TCP: host:port, RTU/ASCII: /dev/ttyUSB0)",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "unit-id",
				Aliases: []string{"u"},
				Usage:   "Modbus unit/slave id",
				Value:   1,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Per-request timeout",
				Value:   5 * time.Second,
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "Number of retries after a retryable failure",
				Value: 0,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "warn",
			},
			// Serial-specific options
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Baud rate (RTU/ASCII only)",
				Value: 19200,
			},
			&cli.IntFlag{
				Name:  "data-bits",
				Usage: "Data bits (RTU/ASCII only)",
				Value: 8,
			},
			&cli.IntFlag{
				Name:  "stop-bits",
				Usage: "Stop bits (RTU/ASCII only)",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "parity",
				Usage: "Parity: none, odd, even (RTU/ASCII only)",
				Value: "even",
			},
			&cli.BoolFlag{
				Name:  "echo",
				Usage: "Half-duplex line handles local echo of the transmitted frame (RTU only)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "read-coils",
				Usage: "Read coils (function code 1)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.UintFlag{Name: "count", Usage: "Number of coils to read (1-2000)", Required: true},
					&cli.StringFlag{Name: "format", Usage: "Output format: binary, decimal", Value: "binary"},
				},
				Action: readCoilsAction,
			},
			{
				Name:  "read-discrete-inputs",
				Usage: "Read discrete inputs (function code 2)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.UintFlag{Name: "count", Usage: "Number of discrete inputs to read (1-2000)", Required: true},
					&cli.StringFlag{Name: "format", Usage: "Output format: binary, decimal", Value: "binary"},
				},
				Action: readDiscreteInputsAction,
			},
			{
				Name:  "read-holding-registers",
				Usage: "Read holding registers (function code 3)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.UintFlag{Name: "count", Usage: "Number of registers to read (1-125)", Required: true},
					&cli.StringFlag{Name: "format", Usage: "Output format: hex, decimal", Value: "hex"},
				},
				Action: readHoldingRegistersAction,
			},
			{
				Name:  "read-input-registers",
				Usage: "Read input registers (function code 4)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.UintFlag{Name: "count", Usage: "Number of registers to read (1-125)", Required: true},
					&cli.StringFlag{Name: "format", Usage: "Output format: hex, decimal", Value: "hex"},
				},
				Action: readInputRegistersAction,
			},
			{
				Name:  "write-single-coil",
				Usage: "Write a single coil (function code 5)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "Coil address", Required: true},
					&cli.BoolFlag{Name: "value", Usage: "Coil value"},
				},
				Action: writeSingleCoilAction,
			},
			{
				Name:  "write-single-register",
				Usage: "Write a single holding register (function code 6)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "Register address", Required: true},
					&cli.UintFlag{Name: "value", Usage: "Register value (0-65535)", Required: true},
				},
				Action: writeSingleRegisterAction,
			},
			{
				Name:  "read-fifo",
				Usage: "Read FIFO queue (function code 24)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "FIFO pointer address", Required: true},
					&cli.StringFlag{Name: "format", Usage: "Output format: hex, decimal", Value: "hex"},
				},
				Action: readFIFOAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		zap.L().Sugar().Fatal(err)
	}
}

// buildConfig merges global CLI flags with an optional viper-loaded config
// file into a modbus.ClientConfig, the file taking precedence over flags.
func buildConfig(c *cli.Context) (modbus.ClientConfig, error) {
	v := viper.New()
	v.SetDefault("timeout", c.Duration("timeout"))
	v.SetDefault("retries", c.Int("retries"))
	v.SetDefault("unitID", byte(c.Int("unit-id")))
	v.SetDefault("handleLocalEcho", c.Bool("echo"))

	if path := c.String("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return modbus.ClientConfig{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := modbus.ClientConfig{
		Address:         c.String("address"),
		Timeout:         v.GetDuration("timeout"),
		Retries:         v.GetInt("retries"),
		UnitID:          byte(v.GetInt("unitID")),
		IdleTimeout:     v.GetDuration("idleTimeout"),
		HandleLocalEcho: v.GetBool("handleLocalEcho"),
	}
	return cfg, nil
}

// newLogger builds a zap-backed modbus.Logger at the requested level.
func newLogger(level string) (modbus.Logger, *zap.Logger, error) {
	var lvl zap.AtomicLevel
	switch level {
	case "debug":
		lvl = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "error":
		lvl = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		lvl = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return modbus.NewZapLogger(logger), logger, nil
}

// createClient creates a Modbus client based on the global flags. It logs a
// per-invocation UUID once, together with the protocol, address and unit id;
// the UUID is not attached to later log lines of the client or its transport.
func createClient(c *cli.Context) (modbus.Client, func(), error) {
	protocol := c.String("protocol")
	address := c.String("address")

	cfg, err := buildConfig(c)
	if err != nil {
		return nil, nil, err
	}

	logger, zapLogger, err := newLogger(c.String("log-level"))
	if err != nil {
		return nil, nil, err
	}
	invocationID := uuid.New()
	logger.Infof("invocation %s: protocol=%s address=%s unitID=%d", invocationID, protocol, address, cfg.UnitID)
	cleanup := func() { _ = zapLogger.Sync() }

	switch protocol {
	case "tcp":
		handler := modbus.NewTCPClientHandler(address)
		handler.Timeout = cfg.Timeout
		handler.Logger = logger
		cl, err := modbus.NewClientWithConfig(handler, cfg, logger, nil)
		return cl, cleanup, err

	case "rtu":
		handler := modbus.NewRTUClientHandler(address)
		handler.BaudRate = c.Int("baud")
		handler.DataBits = c.Int("data-bits")
		handler.StopBits = parseStopBits(c.Int("stop-bits"))
		handler.Parity = parseParity(c.String("parity"))
		handler.Timeout = cfg.Timeout
		handler.HandleLocalEcho = cfg.HandleLocalEcho
		handler.Logger = logger
		cl, err := modbus.NewClientWithConfig(handler, cfg, logger, nil)
		return cl, cleanup, err

	case "ascii":
		handler := modbus.NewASCIIClientHandler(address)
		handler.BaudRate = c.Int("baud")
		handler.DataBits = c.Int("data-bits")
		handler.StopBits = parseStopBits(c.Int("stop-bits"))
		handler.Parity = parseParity(c.String("parity"))
		handler.Timeout = cfg.Timeout
		handler.Logger = logger
		cl, err := modbus.NewClientWithConfig(handler, cfg, logger, nil)
		return cl, cleanup, err

	default:
		cleanup()
		return nil, nil, fmt.Errorf("unsupported protocol: %s (must be tcp, rtu, or ascii)", protocol)
	}
}

func parseStopBits(bits int) modbus.StopBits {
	switch bits {
	case 2:
		return modbus.TwoStopBits
	default:
		return modbus.OneStopBit
	}
}

func parseParity(parity string) modbus.Parity {
	switch parity {
	case "none":
		return modbus.NoParity
	case "odd":
		return modbus.OddParity
	default:
		return modbus.EvenParity
	}
}

// createContextWithSignalHandler creates a context that is cancelled on SIGINT/SIGTERM
func createContextWithSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

func unitID(c *cli.Context) byte {
	return byte(c.Int("unit-id"))
}

// readCoilsAction handles the read-coils command
func readCoilsAction(c *cli.Context) error {
	client, cleanup, err := createClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))
	format := c.String("format")

	if count < 1 || count > 2000 {
		return fmt.Errorf("count must be between 1 and 2000")
	}

	results, err := client.ReadCoils(ctx, unitID(c), start, count)
	if err != nil {
		return fmt.Errorf("failed to read coils: %w", err)
	}

	printBitResults(start, count, results, format)
	return nil
}

// readDiscreteInputsAction handles the read-discrete-inputs command
func readDiscreteInputsAction(c *cli.Context) error {
	client, cleanup, err := createClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))
	format := c.String("format")

	if count < 1 || count > 2000 {
		return fmt.Errorf("count must be between 1 and 2000")
	}

	results, err := client.ReadDiscreteInputs(ctx, unitID(c), start, count)
	if err != nil {
		return fmt.Errorf("failed to read discrete inputs: %w", err)
	}

	printBitResults(start, count, results, format)
	return nil
}

// readHoldingRegistersAction handles the read-holding-registers command
func readHoldingRegistersAction(c *cli.Context) error {
	client, cleanup, err := createClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))
	format := c.String("format")

	if count < 1 || count > 125 {
		return fmt.Errorf("count must be between 1 and 125")
	}

	results, err := client.ReadHoldingRegisters(ctx, unitID(c), start, count)
	if err != nil {
		return fmt.Errorf("failed to read holding registers: %w", err)
	}

	printRegisterResults(start, count, results, format)
	return nil
}

// readInputRegistersAction handles the read-input-registers command
func readInputRegistersAction(c *cli.Context) error {
	client, cleanup, err := createClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))
	format := c.String("format")

	if count < 1 || count > 125 {
		return fmt.Errorf("count must be between 1 and 125")
	}

	results, err := client.ReadInputRegisters(ctx, unitID(c), start, count)
	if err != nil {
		return fmt.Errorf("failed to read input registers: %w", err)
	}

	printRegisterResults(start, count, results, format)
	return nil
}

// writeSingleCoilAction handles the write-single-coil command
func writeSingleCoilAction(c *cli.Context) error {
	client, cleanup, err := createClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	address := uint16(c.Uint("address"))
	value := uint16(0x0000)
	if c.Bool("value") {
		value = 0xFF00
	}

	if _, err := client.WriteSingleCoil(ctx, unitID(c), address, value); err != nil {
		return fmt.Errorf("failed to write coil: %w", err)
	}
	fmt.Printf("0x%04X: written\n", address)
	return nil
}

// writeSingleRegisterAction handles the write-single-register command
func writeSingleRegisterAction(c *cli.Context) error {
	client, cleanup, err := createClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	address := uint16(c.Uint("address"))
	value := uint16(c.Uint("value"))

	if _, err := client.WriteSingleRegister(ctx, unitID(c), address, value); err != nil {
		return fmt.Errorf("failed to write register: %w", err)
	}
	fmt.Printf("0x%04X: written\n", address)
	return nil
}

// readFIFOAction handles the read-fifo command
func readFIFOAction(c *cli.Context) error {
	client, cleanup, err := createClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := createContextWithSignalHandler()
	defer cancel()

	address := uint16(c.Uint("address"))
	format := c.String("format")

	results, err := client.ReadFIFOQueue(ctx, unitID(c), address)
	if err != nil {
		return fmt.Errorf("failed to read FIFO queue: %w", err)
	}

	count := uint16(len(results) / 2)
	fmt.Printf("FIFO Count: %d\n", count)

	if count > 0 {
		printRegisterResults(0, count, results, format)
	}

	return nil
}

// printBitResults prints bit values (coils/discrete inputs)
func printBitResults(start, count uint16, data []byte, format string) {
	for i := uint16(0); i < count; i++ {
		byteIndex := i / 8
		bitIndex := i % 8

		if int(byteIndex) >= len(data) {
			break
		}

		bitValue := (data[byteIndex] >> bitIndex) & 0x01

		switch format {
		default:
			fmt.Printf("0x%04X: %d\n", start+i, bitValue)
		}
	}
}

// printRegisterResults prints register values
func printRegisterResults(start, count uint16, data []byte, format string) {
	for i := uint16(0); i < count; i++ {
		offset := i * 2
		if int(offset+1) >= len(data) {
			break
		}

		value := binary.BigEndian.Uint16(data[offset : offset+2])

		switch format {
		case "decimal":
			fmt.Printf("0x%04X: %d\n", start+i, value)
		default: // hex
			fmt.Printf("0x%04X: 0x%04X\n", start+i, value)
		}
	}
}
