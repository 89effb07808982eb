package audio

// SilenceEvent is what the silence monitor reports for one controller tick.
type SilenceEvent int32

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice for silenceWarnTicks
	SilenceWarnClear              // voice resumed after a warning
	SilenceAutoStop               // no voice across the whole window
)

const (
	silenceWarnTicks = 8  // at one tick per second
	silenceStopTicks = 30 // window for auto-stop
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)

	// speechLevel is the RMS above which a buffer counts as voice.
	speechLevel = 0.02
)

type silenceMonitor struct {
	ticks       int
	window      [silenceStopTicks]bool
	speechCount int
	warned      bool
}

func (m *silenceMonitor) ratio(n int) float64 {
	n = min(n, m.ticks)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+silenceStopTicks)%silenceStopTicks] {
			count++
		}
	}
	return float64(count) / float64(n)
}

// Tick records whether the last second held voice.
func (m *silenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	idx := m.ticks % silenceStopTicks
	if m.ticks >= silenceStopTicks && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	if m.ticks >= silenceStopTicks && float64(m.speechCount)/silenceStopTicks < speechMinRatio {
		return SilenceAutoStop
	}

	r := m.ratio(silenceWarnTicks)
	if m.ticks >= silenceWarnTicks && r < speechMinRatio && !m.warned {
		m.warned = true
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}
	return SilenceNone
}
