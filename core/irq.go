package core

// HandleInterrupt services the controller interrupt.
//
// TX-done drains the received burst and queues the next one; the transfer
// completes once nothing is left to receive. RX-overflow and TX-underrun
// abandon the transfer where it stands. All pending bits are acknowledged
// before completion is signalled, and completion is signalled once.
//
// Faults only go to the fault ring here. Logging allocates, so the issuing
// path reports them after completion.
func (c *Controller) HandleInterrupt() IRQResult {
	s := c.enterCritical()

	status := IntStatus(c.regs.Read32(RegMIS)) & IntDefinedMask

	// The line may be shared and not for us at all
	if status == 0 {
		c.stats.Unhandled++
		c.exitCritical(s)
		return IRQNone
	}

	finalize := false
	var fault error

	if status.Has(IntTxDone) {
		c.regs.Write32(RegIntClear, uint32(IntTxDone))

		// A late TX-done after a forced completion only needs acknowledging
		if c.state == StateTransferring {
			if c.rxLen > 0 {
				c.drainFIFO()
			}
			if c.txLen > 0 {
				c.fillFIFO()
			}
			if c.rxLen == 0 {
				finalize = true
			}
		}
	}

	if status.Has(IntRxReady) {
		c.regs.Write32(RegIntClear, uint32(IntRxReady))
	}

	if status.Has(IntRxOverflow) {
		c.regs.Write32(RegIntClear, uint32(IntRxOverflow))
		finalize = true
		fault = ErrRxOverflow
		c.stats.Overflows++
		c.recordFault(FaultRxOverflow)
	}

	if status.Has(IntTxUnderrun) {
		c.regs.Write32(RegIntClear, uint32(IntTxUnderrun))
		finalize = true
		if fault == nil {
			fault = ErrTxUnderrun
		}
		c.stats.Underruns++
		c.recordFault(FaultTxUnderrun)
	}

	var done FinalizeFunc
	if finalize && c.state == StateTransferring {
		c.state = StateCompleting
		c.releaseBuffers()
		done = c.finalize
	}
	c.exitCritical(s)

	if done != nil {
		done(fault)
	}
	return IRQHandled
}
