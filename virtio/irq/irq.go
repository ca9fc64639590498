// Package irq implements the interrupt line described in spec §4.2: a
// level-sensitive set(0|1) against one IRQ number on the simulator's
// interrupt controller. No queueing, no edge synthesis.
package irq

import "github.com/c35s/hype/sim"

// Line is a single level-sensitive interrupt line on the simulator's
// interrupt controller.
type Line struct {
	ctrl sim.InterruptController
	num  int
}

// New returns a Line bound to IRQ number num on ctrl.
func New(ctrl sim.InterruptController, num int) *Line {
	return &Line{ctrl: ctrl, num: num}
}

// Num returns the IRQ number this line was constructed with.
func (l *Line) Num() int {
	return l.num
}

// Set drives the line to level, which must be 0 or 1.
func (l *Line) Set(level int) {
	l.ctrl.SetInterruptLevel(l.num, level)
}

// Raise is shorthand for Set(1).
func (l *Line) Raise() {
	l.Set(1)
}

// Lower is shorthand for Set(0).
func (l *Line) Lower() {
	l.Set(0)
}
