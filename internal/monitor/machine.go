// Package monitor advances scenario state machines by consuming candles,
// and hosts the scheduler-invoked tick engine that drives them.
package monitor

import (
	"math"
	"strconv"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/fillsim"
)

// MachineConfig holds state-machine parameters.
type MachineConfig struct {
	// TP1PartialPct is the fraction of the position closed at the first
	// take-profit.
	TP1PartialPct float64
}

// DefaultMachineConfig returns the parameters used when none are configured.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{TP1PartialPct: 0.3}
}

// Machine applies candles to a scenario's monitor state.
//
// States: ARMED -> TRIGGERED -> ENTERED -> TP1 -> {TP2, TP3, SL, BE,
// EXPIRED, INVALID}. TP1 is a milestone; the bracketed set is absorbing.
// A single candle may carry the scenario through several transitions.
type Machine struct {
	sim *fillsim.Simulator
	cfg MachineConfig
}

// NewMachine creates a machine over the given fill simulator.
func NewMachine(sim *fillsim.Simulator, cfg MachineConfig) *Machine {
	return &Machine{sim: sim, cfg: cfg}
}

// Apply consumes one candle, mutating st and returning the events produced.
//
// Candles at or before the checkpoint are a no-op: feeding the same candle
// twice never double-applies a fill, TP, or SL. The checkpoint advances
// after every consumed candle whether or not a transition occurred.
// Terminal states consume nothing.
func (m *Machine) Apply(snap *domain.Snapshot, st *domain.MonitorState, c *domain.Candle) []*domain.MonitorEvent {
	if st.Status.IsTerminal() {
		return nil
	}
	if c.OpenTime <= st.LastCandleTS {
		return nil
	}

	var events []*domain.MonitorEvent
	emit := func(kind domain.EventKind, price float64, note string) {
		st.EventSeq++
		events = append(events, &domain.MonitorEvent{
			SnapshotID: st.SnapshotID,
			Seq:        st.EventSeq,
			Kind:       kind,
			Timestamp:  c.OpenTime,
			Price:      price,
			Note:       note,
		})
	}

	// Expiry applies only before entry; an entered position runs to exit.
	if (st.Status == domain.StatusArmed || st.Status == domain.StatusTriggered) && snap.Expired(c.OpenTime) {
		st.Status = domain.StatusExpired
		st.ClosedAt = c.OpenTime
		emit(domain.EventExpiry, c.Close, "")
		st.LastCandleTS = c.OpenTime
		return events
	}

	// ARMED -> TRIGGERED is unconditional on the first unconsumed candle.
	if st.Status == domain.StatusArmed {
		st.Status = domain.StatusTriggered
		st.TriggeredAt = c.OpenTime
		emit(domain.EventTrigger, c.Open, "")
	}

	// Entry ladder fills while TRIGGERED, and scale-in while ENTERED
	// before any take-profit milestone.
	if st.Status == domain.StatusTriggered || st.Status == domain.StatusEntered {
		m.fillEntries(snap, st, c, emit)
	}

	if st.Status == domain.StatusEntered || st.Status == domain.StatusTP1 {
		// Excursions update every candle once entered, not just at exit.
		st.MAEPrice, st.MFEPrice = fillsim.UpdateExcursions(snap.Bias, c, st.MAEPrice, st.MFEPrice)
		st.MAER = fillsim.RMultiple(st.DirectionSign, st.AvgEntryPrice, st.MAEPrice, st.InitialRiskPerUnit)
		st.MFER = fillsim.RMultiple(st.DirectionSign, st.AvgEntryPrice, st.MFEPrice, st.InitialRiskPerUnit)

		// Same-bar rule: the stop is evaluated before any take-profit.
		if m.sim.StopTouched(snap.Bias, st.CurrentStop, c) {
			m.closeAtStop(snap, st, c, emit)
		} else {
			m.checkTargets(snap, st, c, emit)
		}
	}

	st.LastCandleTS = c.OpenTime
	return events
}

// fillEntries fills any untouched entry orders against the candle. The
// first fill locks average entry and initial risk per unit; later scale-in
// fills update average entry and fill percent only.
func (m *Machine) fillEntries(snap *domain.Snapshot, st *domain.MonitorState, c *domain.Candle, emit emitFn) {
	filled := make(map[int]bool, len(st.FilledOrders))
	for _, f := range st.FilledOrders {
		filled[f.OrderIndex] = true
	}

	newFill := false
	for i, order := range snap.EntryOrders {
		if filled[i] {
			continue
		}
		if !m.sim.EntryTouched(snap.Bias, order.Price, c) {
			continue
		}
		fillPrice := m.sim.EntryFillPrice(snap.Bias, order.Price)
		st.FilledOrders = append(st.FilledOrders, domain.FilledOrder{
			OrderIndex: i,
			FillPrice:  fillPrice,
			SizePct:    order.SizePct,
			FilledAt:   c.OpenTime,
		})
		emit(domain.EventEntryFill, fillPrice, orderNote(i))
		newFill = true
	}

	if !newFill {
		return
	}

	st.AvgEntryPrice, st.FillPct = fillsim.WeightedAvgEntry(st.FilledOrders)

	if !st.EntryOccurred {
		// The entry transition: risk per unit locks here, forever.
		st.EntryOccurred = true
		st.Status = domain.StatusEntered
		st.EnteredAt = c.OpenTime
		st.InitialRiskPerUnit = math.Abs(st.AvgEntryPrice - snap.StopLoss)
		st.MAEPrice, st.MFEPrice = st.AvgEntryPrice, st.AvgEntryPrice
	}
}

// closeAtStop closes the remaining position at the current stop. The
// terminal state is SL when the stop never moved, BE when it sits at
// breakeven after TP1.
func (m *Machine) closeAtStop(snap *domain.Snapshot, st *domain.MonitorState, c *domain.Candle, emit emitFn) {
	if !st.EntryOccurred {
		// Logically impossible: a stop hit requires an entry. Upstream
		// modeling bug; park the scenario rather than abort the tick.
		st.Status = domain.StatusInvalid
		st.ClosedAt = c.OpenTime
		emit(domain.EventInvalidation, c.Close, "stop touched without entry")
		return
	}

	exit := m.sim.StopExitPrice(snap.Bias, st.CurrentStop)
	r := fillsim.RMultiple(st.DirectionSign, st.AvgEntryPrice, exit, st.InitialRiskPerUnit)
	st.RealizedR += r * st.RemainingPct
	st.RemainingPct = 0

	if st.StopAtBE {
		st.Status = domain.StatusBE
	} else {
		st.Status = domain.StatusSL
	}
	st.ClosedAt = c.OpenTime
	emit(domain.EventSLHit, exit, "")
}

// checkTargets walks the take-profit ladder in order. TP1 is a milestone
// (partial close, optional breakeven move); TP2/TP3 are terminal. One
// candle may clear several rungs.
func (m *Machine) checkTargets(snap *domain.Snapshot, st *domain.MonitorState, c *domain.Candle, emit emitFn) {
	for idx := st.TPsHit; idx < len(snap.TakeProfits); idx++ {
		tp := snap.TakeProfits[idx]
		if !m.sim.TargetTouched(snap.Bias, tp, c) {
			// The ladder is ordered away from entry; farther rungs
			// cannot be touched if this one was not.
			return
		}
		exit := m.sim.TargetExitPrice(snap.Bias, tp)
		r := fillsim.RMultiple(st.DirectionSign, st.AvgEntryPrice, exit, st.InitialRiskPerUnit)

		if idx == 0 {
			partial := r * m.cfg.TP1PartialPct
			st.RealizedR += partial
			st.RealizedRFromTP1 = partial
			st.RemainingPct -= m.cfg.TP1PartialPct
			st.TPsHit = 1
			st.Status = domain.StatusTP1
			emit(domain.EventTPHit, exit, "tp1")

			if snap.BreakevenAfterTP1 {
				be := st.AvgEntryPrice
				if snap.BreakevenPrice != nil {
					be = *snap.BreakevenPrice
				}
				st.CurrentStop = be
				st.StopAtBE = true
				emit(domain.EventBEMove, be, "")
			}
			continue
		}

		st.RealizedR += r * st.RemainingPct
		st.RemainingPct = 0
		st.TPsHit = idx + 1
		if idx == 1 {
			st.Status = domain.StatusTP2
		} else {
			st.Status = domain.StatusTP3
		}
		st.ClosedAt = c.OpenTime
		emit(domain.EventTPHit, exit, tpNote(idx))
		return
	}
}

type emitFn func(kind domain.EventKind, price float64, note string)

func orderNote(i int) string {
	return "order " + strconv.Itoa(i)
}

func tpNote(idx int) string {
	return "tp" + strconv.Itoa(idx+1)
}
