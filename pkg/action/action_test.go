package action

import (
	"errors"
	"testing"

	"github.com/devicelab-dev/agentenv/pkg/core"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  Type
		touch *Point
		lift  *Point
		text  string
	}{
		{
			name:  "dual point equal is click",
			raw:   "action_type: dual_point, touch_point: [0.5, 0.3], lift_point: [0.5, 0.3], typed_text: ''",
			want:  Click,
			touch: &Point{0.5, 0.3},
		},
		{
			name:  "dual point differing is swipe",
			raw:   "action_type: dual_point, touch_point: [0.5, 0.8], lift_point: [0.5, 0.2], typed_text: ''",
			want:  Swipe,
			touch: &Point{0.5, 0.8},
			lift:  &Point{0.5, 0.2},
		},
		{
			name: "type with typographic quotes",
			raw:  "action_type: type, touch_point: [-1.0, -1.0], lift_point: [-1.0, -1.0], typed_text: ”best rated coffee maker”",
			want: TypeText,
			text: "best rated coffee maker",
		},
		{
			name: "typed text keeps commas and apostrophes",
			raw:  "action_type: type, touch_point: [-1.0, -1.0], lift_point: [-1.0, -1.0], typed_text: 'it's red, big'",
			want: TypeText,
			text: "it's red, big",
		},
		{name: "press back", raw: "action_type: press_back, touch_point: [-1.0, -1.0], lift_point: [-1.0, -1.0], typed_text: ''", want: PressBack},
		{name: "press home", raw: "action_type: press_home", want: PressHome},
		{name: "press enter", raw: "action_type: PRESS_ENTER", want: PressEnter},
		{name: "complete", raw: "action_type: status_task_complete, touch_point: [-1.0, -1.0], lift_point: [-1.0, -1.0], typed_text: ''", want: StatusTaskComplete},
		{name: "impossible", raw: "action_type: status_task_impossible", want: StatusTaskImpossible},
		{name: "intent", raw: "am start -n com.android.settings/.Settings", want: RawIntent, text: "am start -n com.android.settings/.Settings"},
		{name: "oracle", raw: "Oracle: settings opened", want: Oracle, text: "Oracle: settings opened"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Decode(tt.raw)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if a.Type != tt.want {
				t.Errorf("Type = %s, want %s", a.Type, tt.want)
			}
			if !samePoint(a.Touch, tt.touch) || !samePoint(a.Lift, tt.lift) {
				t.Errorf("points = %v %v, want %v %v", a.Touch, a.Lift, tt.touch, tt.lift)
			}
			if a.Text != tt.text {
				t.Errorf("Text = %q, want %q", a.Text, tt.text)
			}
			if a.Raw != tt.raw {
				t.Errorf("Raw not preserved")
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"free text", "tap the blue button"},
		{"unknown type", "action_type: long_press, touch_point: [0.1, 0.1], lift_point: [0.1, 0.1]"},
		{"missing lift", "action_type: dual_point, touch_point: [0.1, 0.1]"},
		{"bad point", "action_type: dual_point, touch_point: [a, b], lift_point: [0.1, 0.1]"},
		{"unbalanced", "action_type: dual_point, touch_point: [0.1, 0.1, lift_point: [0.1, 0.1]"},
		{"empty typed text", "action_type: type, typed_text: ''"},
		{"no key", "action_type: press_back, garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			if !errors.Is(err, core.ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
			if core.IsFatal(err) {
				t.Error("parse errors must not be fatal")
			}
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		a    Action
		want string
	}{
		{"click", Action{Type: Click, Touch: &Point{0.5, 0.25}}, "CLICK|[0.5, 0.25]|NULL|1080|2400"},
		{"whole numbers keep a decimal", Action{Type: Click, Touch: &Point{1, 0}}, "CLICK|[1.0, 0.0]|NULL|1080|2400"},
		{"swipe", Action{Type: Swipe, Touch: &Point{0.5, 0.8}, Lift: &Point{0.5, 0.2}}, "SWIPE|[0.5, 0.8]|[0.5, 0.2]|1080|2400"},
		{"type", Action{Type: TypeText, Text: "hello"}, "TYPE|hello|NULL|1080|2400"},
		{"back", Action{Type: PressBack}, "PRESS_BACK|NULL|NULL|1080|2400"},
		{"complete", Action{Type: StatusTaskComplete}, "STATUS_TASK_COMPLETE|NULL|NULL|1080|2400"},
		{"intent", Action{Type: RawIntent, Text: "am start -a android.intent.action.VIEW"}, "RAW_INTENT|am start -a android.intent.action.VIEW|NULL|1080|2400"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.a, 1080, 2400)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncode_Invalid(t *testing.T) {
	tests := []Action{
		{Type: Click},
		{Type: Swipe, Touch: &Point{0.1, 0.1}},
		{Type: TypeText},
		{Type: "LONG_PRESS"},
	}
	for _, a := range tests {
		if _, err := Encode(a, 1080, 2400); !errors.Is(err, core.ErrParse) {
			t.Errorf("Encode(%+v) expected ErrParse, got %v", a, err)
		}
	}
}

// decode(encode(a)) keeps type and parameters for every variant.
func TestRecordRoundTrip(t *testing.T) {
	actions := []Action{
		{Type: Click, Touch: &Point{0.123, 0.987}},
		{Type: Swipe, Touch: &Point{0.5, 0.9}, Lift: &Point{0.5, 0.1}},
		{Type: TypeText, Text: "pipes | and, commas"},
		{Type: PressEnter},
		{Type: PressBack},
		{Type: PressHome},
		{Type: StatusTaskComplete},
		{Type: StatusTaskImpossible},
		{Type: RawIntent, Text: "am force-stop com.example.notes"},
		{Type: Oracle, Text: "Oracle: done"},
	}

	for _, a := range actions {
		t.Run(string(a.Type), func(t *testing.T) {
			encoded, err := Encode(a, 1440, 3120)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			rec, err := ParseRecord(encoded)
			if err != nil {
				t.Fatalf("ParseRecord(%q) failed: %v", encoded, err)
			}
			got := rec.Action
			if got.Type != a.Type || got.Text != a.Text || !samePoint(got.Touch, a.Touch) || !samePoint(got.Lift, a.Lift) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, a)
			}
			if rec.Width != 1440 || rec.Height != 3120 {
				t.Errorf("dimensions = %dx%d", rec.Width, rec.Height)
			}
		})
	}
}

func TestFormatDecodeRoundTrip(t *testing.T) {
	actions := []Action{
		{Type: Click, Touch: &Point{0.25, 0.75}},
		{Type: Swipe, Touch: &Point{0.5, 0.9}, Lift: &Point{0.5, 0.1}},
		{Type: TypeText, Text: "coffee maker"},
		{Type: PressHome},
		{Type: StatusTaskImpossible},
		{Type: RawIntent, Text: "am start -n com.android.settings/.Settings"},
	}
	for _, a := range actions {
		got, err := Decode(Format(a))
		if err != nil {
			t.Fatalf("Decode(Format(%+v)) failed: %v", a, err)
		}
		if got.Type != a.Type || got.Text != a.Text || !samePoint(got.Touch, a.Touch) || !samePoint(got.Lift, a.Lift) {
			t.Errorf("got %+v, want %+v", got, a)
		}
	}
}

func TestParseRecord_Malformed(t *testing.T) {
	tests := []string{
		"",
		"CLICK",
		"JUMP|NULL|NULL|1|1",
		"CLICK|[0.1, 0.1]|NULL|wide|2400",
		"CLICK|[0.1, 0.1]|NULL|1080|tall",
		"CLICK|0.1|NULL|1080|2400",
		"SWIPE|[0.1, 0.1]|NULL|1080|2400",
		"PRESS_BACK|1080|2400",
	}
	for _, s := range tests {
		if _, err := ParseRecord(s); !errors.Is(err, core.ErrParse) {
			t.Errorf("ParseRecord(%q) expected ErrParse, got %v", s, err)
		}
	}
}

func TestTypePredicates(t *testing.T) {
	if !StatusTaskComplete.IsStatus() || !StatusTaskImpossible.IsStatus() || Click.IsStatus() {
		t.Error("IsStatus wrong")
	}
	for _, typ := range []Type{Oracle, StatusTaskComplete, StatusTaskImpossible} {
		if typ.Dispatchable() {
			t.Errorf("%s should not be dispatched", typ)
		}
	}
	for _, typ := range []Type{Click, Swipe, TypeText, PressBack, RawIntent} {
		if !typ.Dispatchable() {
			t.Errorf("%s should be dispatched", typ)
		}
	}
}

func TestIsPriming(t *testing.T) {
	a, _ := Decode("am force-stop com.example.notes")
	if !a.IsPriming() {
		t.Error("force-stop should be priming")
	}
	a, _ = Decode("am start -n com.example.notes/.Main")
	if a.IsPriming() {
		t.Error("am start is not priming")
	}
}

func TestPointInRange(t *testing.T) {
	tests := []struct {
		p    Point
		want bool
	}{
		{Point{0, 0}, true},
		{Point{1, 1}, true},
		{Point{1.5, 0.2}, false},
		{Point{0.2, -0.1}, false},
	}
	for _, tt := range tests {
		if got := tt.p.InRange(); got != tt.want {
			t.Errorf("%v.InRange() = %v", tt.p, got)
		}
	}
}

func samePoint(a, b *Point) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
