package audio

import "testing"

func feedN(m *silenceMonitor, speech bool, n int) SilenceEvent {
	var last SilenceEvent
	for i := 0; i < n; i++ {
		last = m.Tick(speech)
	}
	return last
}

func TestSilenceWarnAfter8s(t *testing.T) {
	m := &silenceMonitor{}
	for i := 0; i < silenceWarnTicks-1; i++ {
		if ev := m.Tick(false); ev != SilenceNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	if ev := m.Tick(false); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn at tick %d, got %d", silenceWarnTicks, ev)
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := &silenceMonitor{}
	feedN(m, false, silenceWarnTicks)
	for i := 0; i < silenceWarnTicks; i++ {
		if m.Tick(true) == SilenceWarnClear {
			return
		}
	}
	t.Fatal("expected SilenceWarnClear after speech")
}

func TestNoEventsDuringSpeech(t *testing.T) {
	m := &silenceMonitor{}
	for i := 0; i < 100; i++ {
		if ev := m.Tick(true); ev != SilenceNone {
			t.Fatalf("unexpected event %d during speech at tick %d", ev, i)
		}
	}
}

func TestWarnOnlyOnce(t *testing.T) {
	m := &silenceMonitor{}
	warns := 0
	for i := 0; i < silenceStopTicks-1; i++ {
		if m.Tick(false) == SilenceWarn {
			warns++
		}
	}
	if warns != 1 {
		t.Fatalf("expected exactly 1 SilenceWarn, got %d", warns)
	}
}

func TestWarnStaysDuringNoise(t *testing.T) {
	m := &silenceMonitor{}
	feedN(m, false, silenceWarnTicks)
	for i := 0; i < 20; i++ {
		// One loud second in ten stays below the clear threshold.
		if m.Tick(i%10 == 0) == SilenceWarnClear {
			t.Fatalf("warning cleared by sparse noise at tick %d", i)
		}
	}
}

func TestAutoStopAfterSilentWindow(t *testing.T) {
	m := &silenceMonitor{}
	for i := 0; i < silenceStopTicks-1; i++ {
		if m.Tick(false) == SilenceAutoStop {
			t.Fatalf("auto-stop too early at tick %d", i)
		}
	}
	if ev := m.Tick(false); ev != SilenceAutoStop {
		t.Fatalf("expected SilenceAutoStop at tick %d, got %d", silenceStopTicks, ev)
	}
}

func TestAutoStopPreventedBySpeech(t *testing.T) {
	m := &silenceMonitor{}
	for i := 0; i < 200; i++ {
		if m.Tick(i%10 < 7) == SilenceAutoStop {
			t.Fatalf("unexpected auto-stop with speech at tick %d", i)
		}
	}
}
