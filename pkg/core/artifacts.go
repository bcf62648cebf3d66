// Package core provides the shared error and artifact types for agentenv.
package core

import (
	"fmt"
	"path/filepath"
)

// ArtifactKind names one per-episode artifact directory under captured_data/.
type ArtifactKind string

// Artifact kinds
const (
	ArtifactScreenshot    ArtifactKind = "screenshot"
	ArtifactHierarchyXML  ArtifactKind = "xml"
	ArtifactHierarchyTree ArtifactKind = "vh"
	ArtifactActivity      ArtifactKind = "activity"
	ArtifactAction        ArtifactKind = "action"
	ArtifactChat          ArtifactKind = "chat"
	ArtifactInstalledApps ArtifactKind = "installed_apps"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeXML  = "application/xml"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// capturedDataDir is the subdirectory of an episode that holds step artifacts.
const capturedDataDir = "captured_data"

// InstalledAppsFile is the single package list written when an episode ends.
const InstalledAppsFile = "installed_apps.txt"

// Extension returns the file extension used for the artifact kind.
func (k ArtifactKind) Extension() string {
	switch k {
	case ArtifactScreenshot:
		return ".png"
	case ArtifactHierarchyXML:
		return ".xml"
	case ArtifactHierarchyTree:
		return ".vh"
	case ArtifactActivity:
		return ".activity"
	case ArtifactAction:
		return ".action"
	case ArtifactChat:
		return ".chat"
	default:
		return ".txt"
	}
}

// ContentType returns the MIME type of the artifact kind.
func (k ArtifactKind) ContentType() string {
	switch k {
	case ArtifactScreenshot:
		return ContentTypePNG
	case ArtifactHierarchyXML:
		return ContentTypeXML
	case ArtifactHierarchyTree:
		return ContentTypeJSON
	default:
		return ContentTypeText
	}
}

// ArtifactDir returns <episodeDir>/captured_data/<kind>.
func ArtifactDir(episodeDir string, kind ArtifactKind) string {
	return filepath.Join(episodeDir, capturedDataDir, string(kind))
}

// StepArtifactPath returns the path of a step-keyed artifact, e.g.
// <episodeDir>/captured_data/action/3.action.
func StepArtifactPath(episodeDir string, kind ArtifactKind, step int) string {
	return filepath.Join(ArtifactDir(episodeDir, kind), fmt.Sprintf("%d%s", step, kind.Extension()))
}

// Attachment describes one artifact written to disk.
type Attachment struct {
	Kind        ArtifactKind `json:"kind"`
	ContentType string       `json:"contentType"`
	Path        string       `json:"path"`
}

// NewAttachment creates an attachment for a written artifact.
func NewAttachment(kind ArtifactKind, path string) Attachment {
	return Attachment{Kind: kind, ContentType: kind.ContentType(), Path: path}
}
