package client

import (
	"context"
	"fmt"

	"corespi/core"
)

// ConfigSPI binds oid to chip select cs
func (c *Client) ConfigSPI(ctx context.Context, oid, cs uint8, csActiveHigh bool) error {
	_, err := c.Call(ctx, "config_spi", oid, cs, csActiveHigh)
	return err
}

// SetBus sets the SPI mode (0-3) and clock rate used for oid
func (c *Client) SetBus(ctx context.Context, oid uint8, mode core.Mode, rateHz uint32) error {
	_, err := c.Call(ctx, "spi_set_bus", oid, uint8(mode), rateHz)
	return err
}

// Transfer exchanges data with oid and returns the received bytes
func (c *Client) Transfer(ctx context.Context, oid uint8, data []byte) ([]byte, error) {
	resps, err := c.Call(ctx, "spi_transfer", oid, data)
	if err != nil {
		return nil, err
	}
	for _, r := range resps {
		if r.Name == "spi_transfer_response" && r.Args.Uint("oid") == uint32(oid) {
			return r.Args.Bytes("response"), nil
		}
	}
	return nil, fmt.Errorf("spi_transfer: no response for oid %d", oid)
}

// Send writes data to oid, discarding what comes back
func (c *Client) Send(ctx context.Context, oid uint8, data []byte) error {
	_, err := c.Call(ctx, "spi_send", oid, data)
	return err
}

// ConfigShutdown sets the message sent to oid on emergency stop
func (c *Client) ConfigShutdown(ctx context.Context, oid uint8, data []byte) error {
	_, err := c.Call(ctx, "config_spi_shutdown", oid, data)
	return err
}

// EmergencyStop sends the shutdown messages and stops SPI service
func (c *Client) EmergencyStop(ctx context.Context) error {
	_, err := c.Call(ctx, "emergency_stop")
	return err
}

// Faults returns the controller fault ring, oldest first
func (c *Client) Faults(ctx context.Context) ([]core.FaultEvent, error) {
	resps, err := c.Call(ctx, "get_faults")
	if err != nil {
		return nil, err
	}
	var faults []core.FaultEvent
	for _, r := range resps {
		if r.Name != "fault" {
			continue
		}
		faults = append(faults, core.FaultEvent{
			Kind:  core.FaultKind(r.Args.Uint("kind")),
			Seq:   r.Args.Uint("seq"),
			RxLen: r.Args.Uint("rx"),
			TxLen: r.Args.Uint("tx"),
		})
	}
	return faults, nil
}

// ClearFaults empties the fault ring
func (c *Client) ClearFaults(ctx context.Context) error {
	_, err := c.Call(ctx, "clear_faults")
	return err
}

// Stats returns the controller counters
func (c *Client) Stats(ctx context.Context) (core.Stats, error) {
	resps, err := c.Call(ctx, "get_stats")
	if err != nil {
		return core.Stats{}, err
	}
	for _, r := range resps {
		if r.Name == "stats" {
			return core.Stats{
				Transfers:   r.Args.Uint("transfers"),
				FillBursts:  r.Args.Uint("fill"),
				DrainBursts: r.Args.Uint("drain"),
				BytesTx:     r.Args.Uint("tx"),
				BytesRx:     r.Args.Uint("rx"),
				Overflows:   r.Args.Uint("overflows"),
				Underruns:   r.Args.Uint("underruns"),
				Unhandled:   r.Args.Uint("unhandled"),
			}, nil
		}
	}
	return core.Stats{}, fmt.Errorf("get_stats: no stats response")
}
