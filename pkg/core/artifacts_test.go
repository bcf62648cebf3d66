package core

import (
	"path/filepath"
	"testing"
)

func TestStepArtifactPath(t *testing.T) {
	tests := []struct {
		kind ArtifactKind
		step int
		want string
	}{
		{ArtifactScreenshot, 0, "ep/captured_data/screenshot/0.png"},
		{ArtifactHierarchyXML, 1, "ep/captured_data/xml/1.xml"},
		{ArtifactHierarchyTree, 2, "ep/captured_data/vh/2.vh"},
		{ArtifactActivity, 3, "ep/captured_data/activity/3.activity"},
		{ArtifactAction, 4, "ep/captured_data/action/4.action"},
		{ArtifactChat, 5, "ep/captured_data/chat/5.chat"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := StepArtifactPath("ep", tt.kind, tt.step)
			if got != filepath.FromSlash(tt.want) {
				t.Errorf("StepArtifactPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArtifactKind_ContentType(t *testing.T) {
	if got := ArtifactScreenshot.ContentType(); got != ContentTypePNG {
		t.Errorf("screenshot content type = %s, want %s", got, ContentTypePNG)
	}
	if got := ArtifactHierarchyTree.ContentType(); got != ContentTypeJSON {
		t.Errorf("vh content type = %s, want %s", got, ContentTypeJSON)
	}
	if got := ArtifactAction.ContentType(); got != ContentTypeText {
		t.Errorf("action content type = %s, want %s", got, ContentTypeText)
	}
}

func TestNewAttachment(t *testing.T) {
	a := NewAttachment(ArtifactHierarchyXML, "ep/captured_data/xml/0.xml")
	if a.Kind != ArtifactHierarchyXML {
		t.Errorf("Kind = %s, want xml", a.Kind)
	}
	if a.ContentType != ContentTypeXML {
		t.Errorf("ContentType = %s, want %s", a.ContentType, ContentTypeXML)
	}
	if a.Path != "ep/captured_data/xml/0.xml" {
		t.Errorf("Path = %s", a.Path)
	}
}
