// SPDX-License-Identifier: Unlicense OR MIT

// Package pic drives the pair of cascaded 8259 programmable interrupt
// controllers found on PC compatible machines.
package pic

// Ports is the port I/O the controllers are programmed through.
type Ports interface {
	Outb(port uint16, val uint8)
	Inb(port uint16) uint8
}

const (
	pic1Command = 0x20
	pic1Data    = 0x21
	pic2Command = 0xa0
	pic2Data    = 0xa1

	// Writes to the unused POST diagnostics port take long enough for
	// the controllers to settle between initialization words.
	waitPort = 0x80

	cmdInit           = 0x11
	cmdEndOfInterrupt = 0x20
	mode8086          = 0x01
)

// Default vector offsets, right after the 32 CPU exceptions.
const (
	PrimaryOffset   = 32
	SecondaryOffset = PrimaryOffset + 8
)

type chip struct {
	offset  uint8
	command uint16
	data    uint16
}

func (c *chip) handles(vector uint8) bool {
	return c.offset <= vector && vector < c.offset+8
}

// Chained is the primary controller with the secondary attached to its
// line 2.
type Chained struct {
	ports Ports
	chips [2]chip
}

// New returns the controllers remapped to deliver vectors from offset1
// and offset2 respectively. Nothing is sent to the hardware before
// Initialize.
func New(p Ports, offset1, offset2 uint8) *Chained {
	return &Chained{
		ports: p,
		chips: [2]chip{
			{offset: offset1, command: pic1Command, data: pic1Data},
			{offset: offset2, command: pic2Command, data: pic2Data},
		},
	}
}

// Initialize runs the initialization sequence and restores the
// interrupt masks found before it.
func (c *Chained) Initialize() {
	p := c.ports
	wait := func() { p.Outb(waitPort, 0) }

	mask1 := p.Inb(pic1Data)
	mask2 := p.Inb(pic2Data)

	p.Outb(pic1Command, cmdInit)
	wait()
	p.Outb(pic2Command, cmdInit)
	wait()

	p.Outb(pic1Data, c.chips[0].offset)
	wait()
	p.Outb(pic2Data, c.chips[1].offset)
	wait()

	// Tell the primary there is a secondary on line 2, and the secondary
	// its cascade identity.
	p.Outb(pic1Data, 4)
	wait()
	p.Outb(pic2Data, 2)
	wait()

	p.Outb(pic1Data, mode8086)
	wait()
	p.Outb(pic2Data, mode8086)
	wait()

	p.Outb(pic1Data, mask1)
	p.Outb(pic2Data, mask2)
}

// SetMasks writes the interrupt masks of both controllers. A set bit
// disables the line.
func (c *Chained) SetMasks(primary, secondary uint8) {
	c.ports.Outb(pic1Data, primary)
	c.ports.Outb(pic2Data, secondary)
}

// HandlesInterrupt reports whether vector belongs to either controller.
func (c *Chained) HandlesInterrupt(vector uint8) bool {
	return c.chips[0].handles(vector) || c.chips[1].handles(vector)
}

// NotifyEndOfInterrupt acknowledges vector. Vectors of the secondary
// must be acknowledged at both controllers. Vectors not handled by
// either are ignored.
func (c *Chained) NotifyEndOfInterrupt(vector uint8) {
	if !c.HandlesInterrupt(vector) {
		return
	}
	if c.chips[1].handles(vector) {
		c.ports.Outb(c.chips[1].command, cmdEndOfInterrupt)
	}
	c.ports.Outb(c.chips[0].command, cmdEndOfInterrupt)
}
