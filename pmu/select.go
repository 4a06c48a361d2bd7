// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pmu

import (
	"fmt"
	"math/bits"
	"strings"

	"go.uber.org/zap"
)

// Bit offsets of the general purpose event select register (IA32_PERFEVTSELx).
const (
	evtSelEventShift     = 0
	evtSelUnitMaskShift  = 8
	evtSelUserShift      = 16
	evtSelKernelShift    = 17
	evtSelEdgeShift      = 18
	evtSelPinShift       = 19
	evtSelIntShift       = 20
	evtSelAnyThreadShift = 21
	evtSelEnableShift    = 22
	evtSelInvertShift    = 23
	evtSelCMaskShift     = 24
)

// Bit offsets within one 4-bit counter group of the fixed counter control
// register (IA32_FIXED_CTR_CTRL). Group i starts at bit fixedGroupBits*i.
const (
	fixedEnableShift    = 0
	fixedAnyThreadShift = 2
	fixedIntShift       = 3

	fixedGroupBits = 4
)

// A regField is a bit range of a 32-bit control register.
type regField struct {
	shift int
	nBits int
}

var (
	fieldEventSelect = regField{evtSelEventShift, 8}
	fieldUnitMask    = regField{evtSelUnitMaskShift, 8}
	fieldUser        = regField{evtSelUserShift, 1}
	fieldKernel      = regField{evtSelKernelShift, 1}
	fieldEdge        = regField{evtSelEdgeShift, 1}
	fieldPin         = regField{evtSelPinShift, 1}
	fieldInt         = regField{evtSelIntShift, 1}
	fieldAnyThread   = regField{evtSelAnyThreadShift, 1}
	fieldEnable      = regField{evtSelEnableShift, 1}
	fieldInvert      = regField{evtSelInvertShift, 1}
	fieldCMask       = regField{evtSelCMaskShift, 8}
)

// fixedField returns the field at shift within the group of counter ctr.
func fixedField(ctr int, shift, nBits int) regField {
	return regField{ctr*fixedGroupBits + shift, nBits}
}

// set stores val in f of *reg. Bits of val beyond the field width are
// dropped.
func (f regField) set(reg *uint32, val uint32) {
	max := uint32(1)<<f.nBits - 1
	*reg &^= max << f.shift
	*reg |= (val & max) << f.shift
}

func (f regField) get(reg uint32) uint32 {
	return reg >> f.shift & (uint32(1)<<f.nBits - 1)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// register returns the event select register image that programs e.
func (e GeneralPurposeEvent) register() uint32 {
	var r uint32
	fieldEventSelect.set(&r, uint32(e.EventSelect))
	fieldUnitMask.set(&r, uint32(e.UnitMask))
	fieldUser.set(&r, b2u(e.User))
	fieldKernel.set(&r, b2u(e.Kernel))
	fieldEdge.set(&r, b2u(e.EdgeDetect))
	fieldPin.set(&r, 0)
	fieldInt.set(&r, 0)
	fieldAnyThread.set(&r, b2u(e.AnyThread))
	fieldEnable.set(&r, 1)
	fieldInvert.set(&r, b2u(e.InvertCounterMask))
	fieldCMask.set(&r, uint32(e.CounterMask))
	return r
}

// enableMask returns the 2-bit enable field for a fixed counter claimed by
// e. Bit 0 enables ring 0 and bit 1 enables ring 3. An event with neither
// flag still counts in ring 0.
func (e FixedEvent) enableMask() uint32 {
	switch {
	case e.User && e.Kernel:
		return 3
	case e.User:
		return 2
	}
	return 1
}

// findFixed returns the first event in evs that claims counter ctr.
func findFixed(evs []FixedEvent, ctr int) (FixedEvent, bool) {
	for _, e := range evs {
		if int(e.Counter) == ctr {
			return e, true
		}
	}
	return FixedEvent{}, false
}

func fixedSelect(evs []FixedEvent) uint32 {
	var r uint32
	for ctr := 0; ctr < MaxFixedEvents; ctr++ {
		var enable uint32
		if e, ok := findFixed(evs, ctr); ok {
			enable = e.enableMask()
		}
		fixedField(ctr, fixedEnableShift, 2).set(&r, enable)
		fixedField(ctr, fixedAnyThreadShift, 1).set(&r, 0)
		fixedField(ctr, fixedIntShift, 1).set(&r, 0)
	}
	return r
}

// fixedGlobalCtl returns the global control bits enabling the fixed
// counters claimed by evs. It fails without setting any bit if an event
// names a counter out of range.
func fixedGlobalCtl(evs []FixedEvent) (uint32, error) {
	var r uint32
	for _, e := range evs {
		if int(e.Counter) >= MaxFixedEvents {
			return 0, &ValidationError{
				Class: ClassFixed,
				Value: int(e.Counter),
				Max:   MaxFixedEvents,
				Err:   ErrInvalidCounter,
			}
		}
		r |= 1 << e.Counter
	}
	return r, nil
}

// An EventSelect holds the register images that program a [Request].
type EventSelect struct {
	// General holds one event select register per general purpose event,
	// in request order.
	General []uint32

	// Offcore holds the offcore response register values, in request
	// order.
	Offcore []uint64

	// FixedSelect is the fixed counter control register.
	FixedSelect uint32

	// FixedGlobalCtl has bit i set iff fixed counter i is programmed.
	FixedGlobalCtl uint32
}

func (s *EventSelect) GeneralCount() int { return len(s.General) }
func (s *EventSelect) OffcoreCount() int { return len(s.Offcore) }

// FixedCount returns the number of fixed counters s enables.
func (s *EventSelect) FixedCount() int {
	return bits.OnesCount32(s.FixedGlobalCtl)
}

// FixedEnableMask returns the 2-bit enable field programmed for fixed
// counter ctr, or 0 if ctr is not enabled.
func (s *EventSelect) FixedEnableMask(ctr int) uint32 {
	if ctr < 0 || ctr >= MaxFixedEvents {
		return 0
	}
	return fixedField(ctr, fixedEnableShift, 2).get(s.FixedSelect)
}

func (s *EventSelect) String() string {
	var b strings.Builder
	for i, r := range s.General {
		fmt.Fprintf(&b, "gp[%d] %#08x\n", i, r)
	}
	if s.FixedGlobalCtl != 0 {
		fmt.Fprintf(&b, "fixed %#08x global %#x\n", s.FixedSelect, s.FixedGlobalCtl)
	}
	for i, r := range s.Offcore {
		fmt.Fprintf(&b, "offcore[%d] %#016x\n", i, r)
	}
	return b.String()
}

// Build validates req and returns the register images that program it.
//
// Build fails if req has more events of any class than the hardware
// supports, or if a fixed event names a counter the hardware does not
// have. Checks happen in that order and the first violation is reported
// as a *[ValidationError]. On failure Build returns no EventSelect at all.
//
// Each packed event and each rejected request is logged to log at debug
// and error level respectively. log may be nil.
//
// Build has no side effects beyond logging and is safe to call
// concurrently.
func Build(req *Request, log *zap.Logger) (*EventSelect, error) {
	if log == nil {
		log = zap.NewNop()
	}
	reject := func(err error) (*EventSelect, error) {
		log.Error("Rejected PMU request", zap.Error(err))
		return nil, err
	}

	if n := len(req.Fixed); n > MaxFixedEvents {
		return reject(&ValidationError{Class: ClassFixed, Value: n, Max: MaxFixedEvents, Err: ErrTooManyEvents})
	}
	if n := len(req.General); n > MaxGeneralPurposeEvents {
		return reject(&ValidationError{Class: ClassGeneralPurpose, Value: n, Max: MaxGeneralPurposeEvents, Err: ErrTooManyEvents})
	}
	if n := len(req.Offcore); n > MaxOffcoreEvents {
		return reject(&ValidationError{Class: ClassOffcore, Value: n, Max: MaxOffcoreEvents, Err: ErrTooManyEvents})
	}
	globalCtl, err := fixedGlobalCtl(req.Fixed)
	if err != nil {
		return reject(err)
	}

	sel := &EventSelect{
		General:        make([]uint32, len(req.General)),
		Offcore:        make([]uint64, len(req.Offcore)),
		FixedGlobalCtl: globalCtl,
	}
	for i, e := range req.General {
		sel.General[i] = e.register()
		log.Debug("Programmed general purpose event",
			zap.Int("index", i),
			zap.Stringer("event", e),
			zap.String("select", fmt.Sprintf("%#08x", sel.General[i])))
	}
	for i, e := range req.Offcore {
		sel.Offcore[i] = uint64(e)
		log.Debug("Programmed offcore event",
			zap.Int("index", i),
			zap.Stringer("value", e))
	}
	if globalCtl != 0 {
		sel.FixedSelect = fixedSelect(req.Fixed)
		log.Debug("Programmed fixed events",
			zap.String("select", fmt.Sprintf("%#08x", sel.FixedSelect)),
			zap.String("globalCtl", fmt.Sprintf("%#x", globalCtl)))
	}
	return sel, nil
}
