package core

// Transfer is one transfer request. The buffers are borrowed by the
// controller until the transfer completes.
type Transfer struct {
	Tx      []byte // Source; nil sends FillerByte
	Rx      []byte // Sink; nil discards received bytes
	Len     int    // Bytes to clock
	SpeedHz uint32 // Target SPI clock
}

// TransferResult is the synchronous outcome of TransferOne
type TransferResult uint8

const (
	// TransferDone means the transfer finished before TransferOne returned
	TransferDone TransferResult = iota

	// TransferInProgress means completion will be signalled through the FinalizeFunc
	TransferInProgress
)

// TransferOne starts a transfer and returns without waiting for it.
// The first FIFO burst is queued here; the interrupt handler drains and
// refills the FIFOs and calls the FinalizeFunc when the transfer ends.
// A zero-length transfer completes immediately without data register access.
func (c *Controller) TransferOne(x *Transfer) (TransferResult, error) {
	if x.Len < 0 || x.Len > MaxTransferLen {
		return TransferDone, ErrTransferTooLong
	}
	if (x.Tx != nil && len(x.Tx) < x.Len) || (x.Rx != nil && len(x.Rx) < x.Len) {
		return TransferDone, ErrShortBuffer
	}

	s := c.enterCritical()
	if c.closed {
		c.exitCritical(s)
		return TransferDone, ErrClosed
	}
	if c.state == StateTransferring {
		c.exitCritical(s)
		return TransferDone, ErrBusy
	}

	if err := c.calculateClockGen(x.SpeedHz); err != nil {
		c.recordFault(FaultInvalidFrequency)
		c.exitCritical(s)
		c.log.Error("failed to set clk_gen", "target_hz", x.SpeedHz, "err", err)
		return TransferDone, err
	}
	c.applyClockGen()

	c.seq++
	c.stats.Transfers++
	c.txBuf = x.Tx
	c.rxBuf = x.Rx
	c.txLen = x.Len
	c.rxLen = x.Len
	c.pending = 0

	if x.Len == 0 {
		c.state = StateCompleting
		c.releaseBuffers()
		c.exitCritical(s)
		return TransferDone, nil
	}

	c.state = StateTransferring
	c.fillFIFO()
	c.exitCritical(s)
	return TransferInProgress, nil
}

// fillFIFO queues the next burst of up to FIFODepth frames. The FIFO may
// report full early; whatever is left goes out with the next burst.
func (c *Controller) fillFIFO() int {
	n := min(c.txLen, FIFODepth)
	c.setXferSize(n)

	i := 0
	for ; i < n; i++ {
		if Status(c.regs.Read32(RegStatus)).Has(StatusTxFIFOFull) {
			break
		}
		b := byte(FillerByte)
		if c.txBuf != nil {
			b = c.txBuf[0]
			c.txBuf = c.txBuf[1:]
		}
		c.regs.Write32(RegTxData, uint32(b))
	}

	c.txLen -= i
	c.pending += i
	c.stats.FillBursts++
	c.stats.BytesTx += uint32(i)
	return i
}

// drainFIFO reads up to FIFODepth received frames, stopping early when the
// RX FIFO reports empty
func (c *Controller) drainFIFO() int {
	n := min(c.rxLen, FIFODepth)

	i := 0
	for ; i < n; i++ {
		if Status(c.regs.Read32(RegStatus)).Has(StatusRxFIFOEmpty) {
			break
		}
		b := byte(c.regs.Read32(RegRxData))
		if c.rxBuf != nil {
			c.rxBuf[0] = b
			c.rxBuf = c.rxBuf[1:]
		}
	}

	c.rxLen -= i
	c.pending -= i
	c.stats.DrainBursts++
	c.stats.BytesRx += uint32(i)
	return i
}
