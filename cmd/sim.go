package cmd

// nopMemory and nopInterruptController stand in for the host simulator so a
// plugin command can install its device on a Bus just to learn its MMIO
// placement and print a device-tree fragment, without a real guest running.
type nopMemory struct{}

func (nopMemory) LoadAt(addr uint64, p []byte) error  { return nil }
func (nopMemory) StoreAt(addr uint64, p []byte) error { return nil }

type nopInterruptController struct{}

func (nopInterruptController) SetInterruptLevel(irq int, level int) {}
