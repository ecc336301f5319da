//go:build linux

package hotkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// struct input_event on 64-bit kernels: timeval, type, code, value
const inputEventSize = 24

var (
	inputDir = "/dev/input"
	sysInput = "/sys/class/input"

	errNoKeyboards = errors.New("no keyboard devices found (is user in 'input' group?)")
)

type inputEvent struct {
	typ   uint16
	code  uint16
	value int32
}

// decodeEvents calls fn for every complete event in buf.
func decodeEvents(buf []byte, fn func(inputEvent)) {
	for i := 0; i+inputEventSize <= len(buf); i += inputEventSize {
		fn(inputEvent{
			typ:   binary.LittleEndian.Uint16(buf[i+16:]),
			code:  binary.LittleEndian.Uint16(buf[i+18:]),
			value: int32(binary.LittleEndian.Uint32(buf[i+20:])),
		})
	}
}

// evdevHotkey watches every keyboard under /dev/input for the combo. It
// needs read access to the event devices, not a display server.
type evdevHotkey struct {
	keydown chan struct{}
	keyup   chan struct{}

	mu      sync.Mutex
	devices []io.ReadCloser
	closed  bool
}

func New() Hotkey {
	return &evdevHotkey{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (h *evdevHotkey) Register() error {
	devices, found, err := openKeyboards()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("could not open any of %d keyboard device(s) (run: sudo usermod -aG input $USER, then re-login)", found)
	}

	h.mu.Lock()
	h.devices = devices
	h.mu.Unlock()
	for _, d := range devices {
		go h.watch(d)
	}
	return nil
}

// watch returns when the device read fails, which Unregister forces by
// closing it.
func (h *evdevHotkey) watch(r io.Reader) {
	buf := make([]byte, inputEventSize*16)
	var combo comboTracker
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		decodeEvents(buf[:n], func(ev inputEvent) {
			if ev.typ != evKey {
				return
			}
			down, up := combo.feed(ev.code, ev.value)
			if down {
				notify(h.keydown)
			}
			if up {
				notify(h.keyup)
			}
		})
	}
}

// notify never blocks the reader; a pending event is enough.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (h *evdevHotkey) Unregister() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, d := range h.devices {
		d.Close()
	}
}

func (h *evdevHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *evdevHotkey) Keyup() <-chan struct{}   { return h.keyup }

// openKeyboards opens every keyboard it can and reports how many it found.
func openKeyboards() (opened []io.ReadCloser, found int, err error) {
	paths, err := findKeyboards()
	if err != nil {
		return nil, 0, fmt.Errorf("finding keyboards: %w", err)
	}
	if len(paths) == 0 {
		return nil, 0, errNoKeyboards
	}
	for _, p := range paths {
		if f, err := os.Open(p); err == nil {
			opened = append(opened, f)
		}
	}
	return opened, len(paths), nil
}

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, err
	}

	var keyboards []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "event") && isKeyboard(e.Name()) {
			keyboards = append(keyboards, filepath.Join(inputDir, e.Name()))
		}
	}
	return keyboards, nil
}

// isKeyboard treats a device with a wide key capability bitmap as a
// keyboard; mice and power buttons report a short one.
func isKeyboard(eventName string) bool {
	data, err := os.ReadFile(filepath.Join(sysInput, eventName, "device", "capabilities", "key"))
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) > 10
}

func Diagnose() (string, error) {
	devices, found, err := openKeyboards()
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		d.Close()
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", found)
	}
	return fmt.Sprintf("%s via %d of %d keyboard(s)", Combo, len(devices), found), nil
}
