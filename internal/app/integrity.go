package app

import "contest-session-service/internal/domain"

// IntegrityOutcome is the monitor's verdict for a single signal.
type IntegrityOutcome struct {
	// Warn asks the client to surface a fullscreen re-entry prompt.
	Warn bool
	// ForceSubmit is set exactly once, on the first violation past the
	// warning budget. Callers funnel it into Finalize.
	ForceSubmit bool
	// WarningsUsed and WarningsLeft describe the budget after this signal.
	WarningsUsed int
	WarningsLeft int
}

// IntegrityMonitor accumulates anti-cheat signals for one attempt.
// Visibility and blur signals are audit metadata only; fullscreen exits
// consume the warning budget. The taker may exit fullscreen maxWarnings
// times with a warning each; the next exit forces submission, and the
// trigger latches so later violations are no-ops.
//
// The caller is expected to hold the session lock; the monitor itself
// is not synchronized.
type IntegrityMonitor struct {
	maxWarnings int
	warnings    int
	latched     bool
}

func NewIntegrityMonitor(maxWarnings int) *IntegrityMonitor {
	return &IntegrityMonitor{maxWarnings: maxWarnings}
}

// Restore rebuilds the warning state from persisted flags, so a resumed
// attempt does not get a fresh budget.
func (m *IntegrityMonitor) Restore(flags domain.CheatFlags) {
	m.warnings = flags.FullscreenExitCount
	if m.warnings > m.maxWarnings {
		m.latched = true
	}
}

// Record applies one signal, bumping the matching counter in flags.
func (m *IntegrityMonitor) Record(sig domain.IntegritySignal, flags *domain.CheatFlags) IntegrityOutcome {
	switch sig {
	case domain.SignalVisibilityHidden:
		flags.TabSwitchCount++
		return IntegrityOutcome{WarningsUsed: m.warnings, WarningsLeft: m.left()}
	case domain.SignalBlur:
		flags.BlurCount++
		return IntegrityOutcome{WarningsUsed: m.warnings, WarningsLeft: m.left()}
	case domain.SignalFullscreenExit:
		flags.FullscreenExitCount++
		if m.latched {
			return IntegrityOutcome{WarningsUsed: m.warnings, WarningsLeft: 0}
		}
		m.warnings++
		if m.warnings > m.maxWarnings {
			m.latched = true
			return IntegrityOutcome{ForceSubmit: true, WarningsUsed: m.warnings, WarningsLeft: 0}
		}
		return IntegrityOutcome{Warn: true, WarningsUsed: m.warnings, WarningsLeft: m.left()}
	default:
		return IntegrityOutcome{WarningsUsed: m.warnings, WarningsLeft: m.left()}
	}
}

func (m *IntegrityMonitor) left() int {
	left := m.maxWarnings - m.warnings
	if left < 0 {
		return 0
	}
	return left
}
