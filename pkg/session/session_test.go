package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/devicelab-dev/agentenv/pkg/core"
)

type fakeDevice struct {
	calls      []string
	connectErr error
	width      int
	height     int
	packages   []string
	xml        string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		width:  1080,
		height: 2400,
		xml:    `<hierarchy rotation="0"><node class="android.widget.FrameLayout" bounds="[0,0][1080,2400]"/></hierarchy>`,
	}
}

func (f *fakeDevice) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeDevice) Serial() string { return "emulator-5554" }

func (f *fakeDevice) WaitForDevice(context.Context, time.Duration, time.Duration) error {
	f.record("wait")
	return f.connectErr
}

func (f *fakeDevice) ScreenSize(context.Context) (int, int, error) {
	f.record("size")
	return f.width, f.height, nil
}

func (f *fakeDevice) Tap(_ context.Context, x, y int) error {
	f.record("tap %d %d", x, y)
	return nil
}

func (f *fakeDevice) Swipe(_ context.Context, x1, y1, x2, y2, ms int) error {
	f.record("swipe %d %d %d %d %d", x1, y1, x2, y2, ms)
	return nil
}

func (f *fakeDevice) InputText(_ context.Context, text string) error {
	f.record("text %s", text)
	return nil
}

func (f *fakeDevice) KeyEvent(_ context.Context, code int) error {
	f.record("key %d", code)
	return nil
}

func (f *fakeDevice) Shell(_ context.Context, cmd string) (string, error) {
	f.record("shell %s", cmd)
	return "", nil
}

func (f *fakeDevice) Screenshot(context.Context) ([]byte, error) {
	f.record("screenshot")
	return []byte("\x89PNG"), nil
}

func (f *fakeDevice) DumpHierarchy(context.Context) (string, error) {
	f.record("dump")
	return f.xml, nil
}

func (f *fakeDevice) TopActivity(context.Context) (string, error) {
	f.record("activity")
	return "com.android.settings/.Settings", nil
}

func (f *fakeDevice) InstalledPackages(context.Context) ([]string, error) {
	f.record("packages")
	return f.packages, nil
}

func connected(t *testing.T, dev *fakeDevice) *Session {
	t.Helper()
	s := New(dev, DefaultConfig())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	dev.calls = nil
	return s
}

func TestConnect_Failure(t *testing.T) {
	dev := newFakeDevice()
	dev.connectErr = errors.New("timeout waiting for device emulator-5554")
	s := New(dev, DefaultConfig())

	err := s.Connect(context.Background())
	if !errors.Is(err, core.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if s.Connected() {
		t.Error("session should not be connected")
	}
}

func TestTap_OutOfRangeBeforeBridge(t *testing.T) {
	dev := newFakeDevice()
	s := connected(t, dev)

	err := s.Tap(context.Background(), 1.5, 0.2)
	if !errors.Is(err, core.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if len(dev.calls) != 0 {
		t.Errorf("expected no bridge calls, got %v", dev.calls)
	}
	if core.IsFatal(err) {
		t.Error("out-of-range input is not fatal")
	}
}

func TestSwipe_OutOfRangeBeforeBridge(t *testing.T) {
	dev := newFakeDevice()
	s := connected(t, dev)

	for _, coords := range [][4]float64{
		{0.5, 0.5, 0.5, -0.01},
		{1.01, 0.5, 0.5, 0.5},
	} {
		err := s.Swipe(context.Background(), coords[0], coords[1], coords[2], coords[3])
		if !errors.Is(err, core.ErrOutOfRange) {
			t.Errorf("Swipe(%v) expected ErrOutOfRange, got %v", coords, err)
		}
	}
	if len(dev.calls) != 0 {
		t.Errorf("expected no bridge calls, got %v", dev.calls)
	}
}

func TestTapAndSwipe_PixelTranslation(t *testing.T) {
	dev := newFakeDevice()
	s := connected(t, dev)
	ctx := context.Background()

	if err := s.Tap(ctx, 0.5, 0.25); err != nil {
		t.Fatal(err)
	}
	if err := s.Tap(ctx, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Swipe(ctx, 0.5, 0.8, 0.5, 0.2); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"size", "tap 540 600",
		"size", "tap 1079 2399",
		"size", "swipe 540 1920 540 480 300",
	}
	if fmt.Sprint(dev.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v\nwant %v", dev.calls, want)
	}
}

func TestScreenMetrics_Fresh(t *testing.T) {
	dev := newFakeDevice()
	s := connected(t, dev)

	w, h, _ := s.ScreenMetrics(context.Background())
	dev.width, dev.height = 2400, 1080
	w2, h2, _ := s.ScreenMetrics(context.Background())
	if w != 1080 || h != 2400 || w2 != 2400 || h2 != 1080 {
		t.Errorf("metrics not refreshed: %dx%d then %dx%d", w, h, w2, h2)
	}
}

func TestPressKey(t *testing.T) {
	dev := newFakeDevice()
	s := connected(t, dev)
	ctx := context.Background()

	for _, key := range []Key{KeyEnter, KeyBack, KeyHome} {
		if err := s.PressKey(ctx, key); err != nil {
			t.Errorf("PressKey(%s) failed: %v", key, err)
		}
	}
	if fmt.Sprint(dev.calls) != "[key 66 key 4 key 3]" {
		t.Errorf("calls = %v", dev.calls)
	}

	if err := s.PressKey(ctx, Key("MENU")); !errors.Is(err, core.ErrUnsupportedKey) {
		t.Errorf("expected ErrUnsupportedKey, got %v", err)
	}
}

func TestRequiresConnection(t *testing.T) {
	dev := newFakeDevice()
	s := New(dev, DefaultConfig())
	ctx := context.Background()

	checks := map[string]error{
		"tap":  s.Tap(ctx, 0.1, 0.1),
		"type": s.TypeText(ctx, "x"),
		"key":  s.PressKey(ctx, KeyHome),
	}
	_, checks["capture"] = s.CaptureState(ctx)
	_, checks["packages"] = s.InstalledPackages(ctx)
	_, checks["shell"] = s.Shell(ctx, "am start")

	for name, err := range checks {
		if !errors.Is(err, core.ErrDeviceDisconnected) {
			t.Errorf("%s: expected ErrDeviceDisconnected, got %v", name, err)
		}
	}
	if len(dev.calls) != 0 {
		t.Errorf("expected no bridge calls, got %v", dev.calls)
	}

	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	s.Disconnect()
	if s.Connected() {
		t.Error("expected disconnected")
	}
}

func TestCaptureState(t *testing.T) {
	dev := newFakeDevice()
	s := connected(t, dev)

	snap, err := s.CaptureState(context.Background())
	if err != nil {
		t.Fatalf("CaptureState failed: %v", err)
	}
	if string(snap.Screenshot) != "\x89PNG" || snap.Activity != "com.android.settings/.Settings" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Hierarchy) != 2 || snap.Hierarchy[0].Size != "1080*2400" {
		t.Errorf("unexpected hierarchy: %+v", snap.Hierarchy)
	}
	if snap.Width != 1080 || snap.Height != 2400 {
		t.Errorf("dimensions = %dx%d", snap.Width, snap.Height)
	}
}

func TestCaptureState_BadHierarchyStillCaptures(t *testing.T) {
	dev := newFakeDevice()
	dev.xml = "ERROR: could not get idle state."
	s := connected(t, dev)

	snap, err := s.CaptureState(context.Background())
	if err != nil {
		t.Fatalf("CaptureState failed: %v", err)
	}
	if snap.Hierarchy != nil || snap.HierarchyXML != dev.xml {
		t.Errorf("expected raw dump kept without nodes: %+v", snap)
	}
}

func TestTypeTextAndPackages(t *testing.T) {
	dev := newFakeDevice()
	dev.packages = []string{"com.example.notes"}
	s := connected(t, dev)
	ctx := context.Background()

	if err := s.TypeText(ctx, "coffee"); err != nil {
		t.Fatal(err)
	}
	pkgs, err := s.InstalledPackages(ctx)
	if err != nil || len(pkgs) != 1 {
		t.Errorf("InstalledPackages() = %v, %v", pkgs, err)
	}
	if _, err := s.Shell(ctx, "am start -n com.example.notes/.Main"); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(dev.calls) != "[text coffee packages shell am start -n com.example.notes/.Main]" {
		t.Errorf("calls = %v", dev.calls)
	}
}
