package drawings

import "time"

// Drawing is one archived drawing file. The pipeline reads drawings and
// writes analysis results back in place; AnalyzedAt (not run status) is the
// source of truth for "already analyzed".
type Drawing struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Filename     string         `json:"filename"`
	Filepath     string         `json:"filepath"`
	DrawnDate    *time.Time     `json:"drawnDate,omitempty"`
	Title        string         `json:"title,omitempty"`
	FileExt      string         `json:"fileExt,omitempty"`
	AnalysisText *string        `json:"analysisText,omitempty"`
	AnalysisJSON map[string]any `json:"analysisJson,omitempty"`
	AnalyzedAt   *time.Time     `json:"analyzedAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// MediaType returns the image media type implied by the drawing's file
// extension, defaulting to JPEG.
func (d Drawing) MediaType() string {
	switch d.FileExt {
	case "", "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/" + d.FileExt
	}
}
