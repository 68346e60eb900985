package led

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// recordPin remembers every level written to it.
type recordPin struct {
	mu     sync.Mutex
	levels []bool
	err    error
}

func (p *recordPin) Set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, on)
	return p.err
}

func (p *recordPin) writes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, len(p.levels))
	copy(out, p.levels)
	return out
}

func (p *recordPin) last() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.levels) == 0 {
		return false
	}
	return p.levels[len(p.levels)-1]
}

func TestNewTurnsBothOff(t *testing.T) {
	p, s := &recordPin{}, &recordPin{}
	in := New(p, s)
	defer in.Close()

	for name, pin := range map[string]*recordPin{"primary": p, "secondary": s} {
		w := pin.writes()
		if len(w) != 1 || w[0] {
			t.Errorf("%s writes = %v, want [false]", name, w)
		}
	}
	if in.Mode(Primary) != Off || in.Mode(Secondary) != Off {
		t.Errorf("modes = %s/%s, want off/off", in.Mode(Primary), in.Mode(Secondary))
	}
}

func TestSteadyModes(t *testing.T) {
	p := &recordPin{}
	in := New(p, &recordPin{})
	defer in.Close()

	in.Set(Primary, On, 0)
	if !in.Level(Primary) || !p.last() {
		t.Error("On should light the LED")
	}
	in.Set(Primary, Toggle, 0)
	if in.Level(Primary) {
		t.Error("Toggle from on should turn the LED off")
	}
	in.Set(Primary, Toggle, 0)
	if !in.Level(Primary) {
		t.Error("Toggle from off should turn the LED on")
	}
	in.Set(Primary, Off, 0)
	if in.Level(Primary) || p.last() {
		t.Error("Off should turn the LED off")
	}
}

func TestHighLowKeepPattern(t *testing.T) {
	in := New(&recordPin{}, &recordPin{})
	defer in.Close()

	in.Set(Secondary, Flash, time.Hour)
	in.Set(Secondary, Low, 0)
	if in.Mode(Secondary) != Flash {
		t.Errorf("mode after Low = %s, want flash", in.Mode(Secondary))
	}
	if in.Level(Secondary) {
		t.Error("Low should turn the LED off")
	}
	in.Set(Secondary, High, 0)
	if in.Mode(Secondary) != Flash {
		t.Errorf("mode after High = %s, want flash", in.Mode(Secondary))
	}
	if !in.Level(Secondary) {
		t.Error("High should turn the LED on")
	}
}

func TestFlashToggles(t *testing.T) {
	p := &recordPin{}
	in := New(p, &recordPin{})

	in.Set(Primary, Flash, 20*time.Millisecond)
	time.Sleep(110 * time.Millisecond)
	in.Close()

	w := p.writes()
	// Initial off, then on, then at least three toggles.
	if len(w) < 5 {
		t.Fatalf("writes = %v, want at least 5", w)
	}
	for i := 2; i < len(w)-1; i++ {
		if w[i] == w[i-1] {
			t.Errorf("writes[%d] = writes[%d] = %v, want alternating", i, i-1, w[i])
		}
	}
}

func TestLowFlashBurst(t *testing.T) {
	p := &recordPin{}
	in := New(p, &recordPin{})
	defer in.Close()

	in.Set(Primary, LowFlash, time.Hour)
	if !in.Level(Primary) {
		t.Fatal("LowFlash should start with the LED on")
	}
	time.Sleep(LowFlashBurst + 50*time.Millisecond)
	if in.Level(Primary) {
		t.Error("LowFlash should turn the LED off after the burst")
	}
	if in.Mode(Primary) != LowFlash {
		t.Errorf("mode = %s, want lowflash", in.Mode(Primary))
	}
}

func TestSetCancelsPreviousPattern(t *testing.T) {
	p := &recordPin{}
	in := New(p, &recordPin{})
	defer in.Close()

	in.Set(Primary, Flash, 10*time.Millisecond)
	in.Set(Primary, Off, 0)
	n := len(p.writes())
	time.Sleep(60 * time.Millisecond)

	if got := len(p.writes()); got != n {
		t.Errorf("writes after Off grew from %d to %d", n, got)
	}
}

func TestFlashWithoutPeriod(t *testing.T) {
	in := New(&recordPin{}, &recordPin{})
	defer in.Close()

	in.Set(Primary, Flash, 0)
	if in.Mode(Primary) != Off || in.Level(Primary) {
		t.Errorf("Flash with zero period = %s/%v, want off/false", in.Mode(Primary), in.Level(Primary))
	}
}

func TestPinErrorKeepsLevel(t *testing.T) {
	p := &recordPin{err: errors.New("gpio gone")}
	in := New(p, &recordPin{})
	defer in.Close()

	in.Set(Primary, On, 0)
	if !in.Level(Primary) {
		t.Error("Level should track the requested state even when the pin fails")
	}
}

func TestModeString(t *testing.T) {
	tests := map[Mode]string{
		Off:      "off",
		Flash:    "flash",
		LowFlash: "lowflash",
		Mode(42): "mode(42)",
	}
	for m, want := range tests {
		if got := m.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", uint8(m), got, want)
		}
	}
}

func TestCloseTurnsBothOff(t *testing.T) {
	p, s := &recordPin{}, &recordPin{}
	in := New(p, s)
	in.Set(Primary, On, 0)
	in.Set(Secondary, Flash, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	in.Close()
	if p.last() || s.last() {
		t.Errorf("after Close primary=%v secondary=%v, want both off", p.last(), s.last())
	}
}
