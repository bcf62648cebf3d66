package hierarchy

import (
	"encoding/json"
	"strings"
	"testing"
)

const sampleDump = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" package="com.google.android.apps.nexuslauncher" content-desc="" checkable="false" checked="false" clickable="false" enabled="true" focusable="false" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[0,0][1080,2400]">
    <node index="0" text="Search" resource-id="com.google.android.apps.nexuslauncher:id/search_box" class="android.widget.EditText" package="com.google.android.apps.nexuslauncher" content-desc="" checkable="false" checked="false" clickable="true" enabled="true" focusable="true" focused="false" scrollable="false" long-clickable="true" password="false" selected="false" bounds="[66,1950][1014,2100]" />
    <node index="1" text="" resource-id="" class="android.widget.TextView" package="com.google.android.apps.nexuslauncher" content-desc="Chrome" checkable="false" checked="false" clickable="true" enabled="true" focusable="true" focused="false" scrollable="false" long-clickable="true" password="false" selected="false" bounds="[100,1600][300,1800]" />
  </node>
</hierarchy>`

func TestParse_Structure(t *testing.T) {
	nodes, err := Parse(sampleDump, 1080, 2400)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(nodes))
	}

	root := nodes[0]
	if root.Parent != -1 || root.Class != nil || root.Text != nil {
		t.Errorf("unexpected root: %+v", root)
	}
	if root.Size != "1080*2400" {
		t.Errorf("root size = %q", root.Size)
	}
	if len(root.Children) != 1 || root.Children[0] != 1 || root.ChildCount != 1 {
		t.Errorf("root children = %v (%d)", root.Children, root.ChildCount)
	}

	frame := nodes[1]
	if frame.Parent != 0 || len(frame.Children) != 2 || frame.Children[0] != 2 || frame.Children[1] != 3 {
		t.Errorf("unexpected frame: parent=%d children=%v", frame.Parent, frame.Children)
	}
	if frame.Bounds != [2][2]int{{0, 0}, {1080, 2400}} || frame.Size != "1080*2400" {
		t.Errorf("frame bounds=%v size=%q", frame.Bounds, frame.Size)
	}

	search := nodes[2]
	if !search.Editable || !search.Clickable || !search.LongClickable {
		t.Errorf("search flags wrong: %+v", search)
	}
	if search.Size != "948*150" {
		t.Errorf("search size = %q", search.Size)
	}
	if x, y := search.Center(); x != 540 || y != 2025 {
		t.Errorf("Center() = %d,%d", x, y)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{"no hierarchy", `<node bounds="[0,0][1,1]"/>`},
		{"empty", ``},
		{"truncated", `<hierarchy><node `},
		{"node after close", `<hierarchy></hierarchy><node bounds="[0,0][1,1]"/>`},
		{"second hierarchy", `<hierarchy></hierarchy><hierarchy></hierarchy>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.xml, 1080, 2400); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseBounds(t *testing.T) {
	tests := []struct {
		in   string
		want [2][2]int
	}{
		{"[0,0][1080,2400]", [2][2]int{{0, 0}, {1080, 2400}}},
		{"[66,1950][1014,2100]", [2][2]int{{66, 1950}, {1014, 2100}}},
		{"garbage", [2][2]int{}},
	}
	for _, tt := range tests {
		if got := parseBounds(tt.in); got != tt.want {
			t.Errorf("parseBounds(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMarshal_Fields(t *testing.T) {
	nodes, err := Parse(sampleDump, 1080, 2400)
	if err != nil {
		t.Fatal(err)
	}
	data, err := Marshal(nodes)
	if err != nil {
		t.Fatal(err)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded[0]["class"] != nil {
		t.Errorf("root class should be null, got %v", decoded[0]["class"])
	}
	for _, key := range []string{"temp_id", "parent", "children", "child_count", "bounds", "size", "content_description", "is_password", "long_clickable"} {
		if _, ok := decoded[1][key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if !strings.Contains(string(data), "\n    {") {
		t.Error("expected four-space indentation")
	}
}

func TestFind(t *testing.T) {
	nodes, err := Parse(sampleDump, 1080, 2400)
	if err != nil {
		t.Fatal(err)
	}

	if n, ok := Find(nodes, WithText("Chrome")); !ok || n.TempID != 3 {
		t.Errorf("WithText(Chrome) = %d, %v", n.TempID, ok)
	}
	if n, ok := Find(nodes, WithResourceID("search_box")); !ok || n.TempID != 2 {
		t.Errorf("WithResourceID(search_box) = %d, %v", n.TempID, ok)
	}
	if _, ok := Find(nodes, WithText("Gmail")); ok {
		t.Error("unexpected match for Gmail")
	}
}
