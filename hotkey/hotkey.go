// Package hotkey listens for the global record shortcut (Ctrl+Shift+Space).
package hotkey

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}
