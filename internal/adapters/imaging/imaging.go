// Package imaging interprets ECG, chest X-ray and echocardiogram images with
// a vision model.
package imaging

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Subject is the kind of image being analysed.
type Subject string

const (
	SubjectECG  Subject = "ecg"
	SubjectXRay Subject = "xray"
	SubjectEcho Subject = "echo"
)

// Title returns a display name.
func (s Subject) Title() string {
	switch s {
	case SubjectXRay:
		return "Chest X-ray"
	case SubjectEcho:
		return "Echocardiogram"
	default:
		return "ECG"
	}
}

// SubjectFromCaption guesses the subject from a photo caption. Without a hint
// the image is treated as an ECG.
func SubjectFromCaption(caption string) Subject {
	c := strings.ToLower(caption)
	for _, kw := range []string{"raio", "rx", "x-ray", "xray", "radiograph"} {
		if strings.Contains(c, kw) {
			return SubjectXRay
		}
	}
	for _, kw := range []string{"eco", "echo"} {
		if strings.Contains(c, kw) {
			return SubjectEcho
		}
	}
	return SubjectECG
}

// Request is one image to analyse.
type Request struct {
	Image    []byte
	MIMEType string // sniffed when empty
	Subject  Subject
	// Context is optional clinical information, usually the caption.
	Context string
}

// Result is an analysis.
type Result struct {
	Subject    Subject
	Text       string
	TokensUsed int
}

// Analyzer interprets medical images.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
	Name() string
}

// Generation parameters.
const (
	temperature = 0.1
	maxTokens   = 2000
)

func mimeType(req Request) string {
	if req.MIMEType != "" {
		return req.MIMEType
	}
	return http.DetectContentType(req.Image)
}

func validate(req Request) error {
	if len(req.Image) == 0 {
		return fmt.Errorf("empty image")
	}
	if mt := mimeType(req); !strings.HasPrefix(mt, "image/") {
		return fmt.Errorf("unsupported content type %q", mt)
	}
	return nil
}
