package keys

import (
	"fmt"
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// Bindings maps desktop key names (gohook names such as "1", "enter",
// "esc") to keypad codes.
type Bindings map[string]Code

// NewBindings builds Bindings from nine digit key names plus the OK and
// power keys. digits[0] is bound to Key1.
func NewBindings(digits []string, ok, power string) (Bindings, error) {
	if len(digits) != 9 {
		return nil, fmt.Errorf("keys: need 9 digit bindings, got %d", len(digits))
	}
	b := make(Bindings, 11)
	add := func(name string, c Code) error {
		if name == "" {
			return fmt.Errorf("keys: empty binding for %s", c)
		}
		if prev, dup := b[name]; dup {
			return fmt.Errorf("keys: %q bound to both %s and %s", name, prev, c)
		}
		b[name] = c
		return nil
	}
	for i, name := range digits {
		if err := add(name, Key1+Code(i)); err != nil {
			return nil, err
		}
	}
	if err := add(ok, OK); err != nil {
		return nil, err
	}
	if err := add(power, Power); err != nil {
		return nil, err
	}
	return b, nil
}

// HookSource reads the keypad from the desktop keyboard using gohook.
// Each bound key press counts as an edge for the debouncer.
type HookSource struct {
	bindings Bindings
	timeout  time.Duration

	deb  *Debouncer
	done chan struct{}
	once sync.Once
}

var _ Source = (*HookSource)(nil)

// NewHookSource creates a HookSource for the given bindings.
func NewHookSource(bindings Bindings, timeout time.Duration) *HookSource {
	return &HookSource{
		bindings: bindings,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// Start registers the bound keys and processes hook events in the
// background until Stop is called.
func (s *HookSource) Start(cb func(Code)) error {
	if len(s.bindings) == 0 {
		return fmt.Errorf("keys: no key bindings")
	}
	s.deb = NewDebouncer(s.timeout, cb)

	for name, code := range s.bindings {
		code := code
		hook.Register(hook.KeyDown, []string{name}, func(e hook.Event) {
			s.deb.Edge(code)
		})
	}

	evChan := hook.Start()
	go func() {
		<-s.done
		hook.End()
	}()
	go func() {
		<-hook.Process(evChan)
	}()
	return nil
}

// Stop terminates the hook listener.
// It is safe to call multiple times.
func (s *HookSource) Stop() {
	s.once.Do(func() {
		if s.deb != nil {
			s.deb.Stop()
		}
		close(s.done)
	})
}
