package main

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"corespi/bus"
	"corespi/command"
	"corespi/core"
	"corespi/sim"
)

const simClockHz = 100000000

// simConn stops the simulated firmware when the host side closes
type simConn struct {
	net.Conn
	cancel context.CancelFunc
}

func (s *simConn) Close() error {
	s.cancel()
	return s.Conn.Close()
}

// startSim runs the firmware command server against a simulated block and
// returns the host end of the link
func startSim(cfg core.Config) (io.ReadWriteCloser, error) {
	if cfg.Name == "" {
		cfg.Name = core.DefaultName
	}
	line := sim.NewLine()
	dev := sim.NewDevice(line)
	ctrl, err := core.New(dev, sim.NewClock(simClockHz), line, cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go dev.Run(ctx, 10*time.Microsecond)

	reg := command.NewRegistry()
	command.NewSPI(reg, bus.New(ctrl), ctrl, ctrl.NumChipSelect())

	firmware, host := net.Pipe()
	go func() {
		defer ctrl.Close()
		err := command.NewServer(reg, firmware).Serve(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			core.Logger().Error("simulated firmware stopped", "err", err)
		}
	}()
	return &simConn{Conn: host, cancel: cancel}, nil
}
