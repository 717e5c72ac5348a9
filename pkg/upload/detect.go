package upload

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FallbackMIMEType is used when no detector recognizes the content.
const FallbackMIMEType = "application/octet-stream"

// SniffLen is how many leading bytes are offered to detectors.
const SniffLen = 3072

// Detector guesses a MIME type from a name and the leading bytes.
// It returns "" when it cannot tell.
type Detector interface {
	Detect(name string, head []byte) string
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(name string, head []byte) string

// Detect implements Detector.
func (f DetectorFunc) Detect(name string, head []byte) string {
	return f(name, head)
}

// Chain tries detectors in order and returns the first answer.
type Chain []Detector

// Detect implements Detector.
func (c Chain) Detect(name string, head []byte) string {
	for _, d := range c {
		if d == nil {
			continue
		}
		if m := d.Detect(name, head); m != "" {
			return m
		}
	}
	return ""
}

// MagicDetector recognizes content by signature.
type MagicDetector struct{}

// Detect implements Detector. Generic results (plain binary) count as
// unknown so later detectors get a chance.
func (MagicDetector) Detect(_ string, head []byte) string {
	if len(head) == 0 {
		return ""
	}
	m := mimetype.Detect(head)
	if m == nil || m.Is(FallbackMIMEType) {
		return ""
	}
	return baseType(m.String())
}

// ExtensionDetector maps the file extension through the system MIME table.
type ExtensionDetector struct{}

// Detect implements Detector.
func (ExtensionDetector) Detect(name string, _ []byte) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return ""
	}
	return baseType(mime.TypeByExtension(strings.ToLower(ext)))
}

// DefaultDetector checks content signatures first, then extensions.
func DefaultDetector() Detector {
	return Chain{MagicDetector{}, ExtensionDetector{}}
}

// DetectMIMEType runs d and applies the fallback.
func DetectMIMEType(d Detector, name string, head []byte) string {
	if d != nil {
		if m := d.Detect(name, head); m != "" {
			return m
		}
	}
	return FallbackMIMEType
}

// baseType drops media type parameters such as charset.
func baseType(m string) string {
	base, _, _ := strings.Cut(m, ";")
	return strings.TrimSpace(base)
}
