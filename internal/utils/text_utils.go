package utils

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// TruncationMarker is appended to excerpts that were cut short
const TruncationMarker = "\n[... Content truncated due to size limits ...]"

// ClipRunes returns s limited to max runes. A non-positive max leaves s unchanged.
func ClipRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	i := 0
	for pos := range s {
		if i == max {
			return s[:pos]
		}
		i++
	}
	return s
}

// TextProcessor prepares message text for detectors and storage
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// Excerpt cuts text to at most maxBytes on a rune boundary and marks the cut
func (tp *TextProcessor) Excerpt(text string, maxBytes int) string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text
	}

	end := maxBytes
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]

	tp.logger.Debug("Text excerpted",
		zap.Int("original_size", len(text)),
		zap.Int("excerpt_size", len(cut)),
		zap.Int("max_size", maxBytes))

	return cut + TruncationMarker
}

// SanitizeUTF8 drops invalid UTF-8 sequences
func (tp *TextProcessor) SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// ProcessText excerpts and sanitizes text in one operation
func (tp *TextProcessor) ProcessText(text string, maxBytes int) string {
	return tp.SanitizeUTF8(tp.Excerpt(text, maxBytes))
}
