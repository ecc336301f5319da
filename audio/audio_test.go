package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f", got)
	}
	if got := RMS(pcmOf(0, 0, 0)); got != 0 {
		t.Errorf("RMS(silence) = %f", got)
	}
	got := RMS(pcmOf(16384, -16384, 16384, -16384))
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(half scale) = %f, want 0.5", got)
	}
}

func TestApplyGainClamps(t *testing.T) {
	tests := []struct {
		in   int16
		gain int32
		want int16
	}{
		{1000, 0, 1000},
		{1000, 1, 1000},
		{1000, 4, 4000},
		{20000, 4, math.MaxInt16},
		{-20000, 4, math.MinInt16},
	}
	for _, tt := range tests {
		if got := applyGain(tt.in, tt.gain); got != tt.want {
			t.Errorf("applyGain(%d, %d) = %d, want %d", tt.in, tt.gain, got, tt.want)
		}
	}
}

func TestIsBluetooth(t *testing.T) {
	tests := map[string]bool{
		"AirPods Pro":                true,
		"Jabra Evolve2 65":           true,
		"Built-in Microphone":        false,
		"alsa_input.pci-0000.analog": false,
	}
	for name, want := range tests {
		if got := IsBluetooth(name); got != want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFakeCaptureDeliversAllPCM(t *testing.T) {
	pcm := make([]byte, 1000*2)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	ctx := NewFakeContextPCM(pcm, false)
	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []byte
	dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		if len(got) < len(pcm) {
			got = append(got, data...)
		}
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-dev.(*FakeCapture).AudioDone():
	case <-time.After(2 * time.Second):
		t.Fatal("fake capture never finished")
	}
	dev.Stop()
	dev.Stop()
	dev.Close()

	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(got[:len(pcm)], pcm) {
		t.Error("delivered PCM differs from source")
	}
	if err := dev.Start(); err == nil {
		t.Error("expected Start after Close to fail")
	}
}

func TestFakeCaptureAppliesGain(t *testing.T) {
	ctx := NewFakeContextPCM(pcmOf(100, -100, 20000), false)
	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1, Gain: 3})
	if err != nil {
		t.Fatal(err)
	}
	if ctx.LastConfig().Gain != 3 {
		t.Errorf("LastConfig = %+v", ctx.LastConfig())
	}

	first := make(chan []byte, 1)
	dev.SetCallback(func(data []byte, _ uint32) {
		select {
		case first <- data:
		default:
		}
	})
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	select {
	case got := <-first:
		if want := pcmOf(300, -300, math.MaxInt16); !bytes.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audio delivered")
	}
}

func TestFakeContextFailOpen(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	denied := errors.New("permission denied")
	ctx.FailOpen(denied)
	if _, err := ctx.NewCapture(nil, CaptureConfig{}); !errors.Is(err, denied) {
		t.Fatalf("NewCapture = %v, want %v", err, denied)
	}
	if ctx.Opened() != 0 {
		t.Errorf("Opened = %d", ctx.Opened())
	}
}

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	d, err := FindDevice(ctx, "FAK")
	if err != nil || d.Name != "fake" {
		t.Fatalf("FindDevice = %v, %v", d, err)
	}
	if _, err := FindDevice(ctx, "usb"); err == nil {
		t.Error("expected no match")
	}
}

type keys struct{ seq [][]byte }

func (k *keys) Read(p []byte) (int, error) {
	if len(k.seq) == 0 {
		return 0, io.EOF
	}
	n := copy(p, k.seq[0])
	k.seq = k.seq[1:]
	return n, nil
}

func TestPick(t *testing.T) {
	devices := []DeviceInfo{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	tests := []struct {
		name    string
		input   [][]byte
		want    int
		wantErr error
	}{
		{"enter on first", [][]byte{{'\r'}}, 0, nil},
		{"down twice", [][]byte{{0x1b, '[', 'B'}, {'j'}, {'\r'}}, 2, nil},
		{"clamped at end", [][]byte{{'j'}, {'j'}, {'j'}, {'\r'}}, 2, nil},
		{"up from second", [][]byte{{'j'}, {0x1b, '[', 'A'}, {'k'}, {'\r'}}, 0, nil},
		{"cancel", [][]byte{{3}}, 0, ErrSelectionCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pick(&keys{seq: tt.input}, io.Discard, devices)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
