package service

import (
	"strings"

	"github.com/mbolis/sensing-survey/model"
)

// acceptsMedia checks m against the prompt it answers.
func acceptsMedia(p *model.Prompt, m *model.Media) *Error {
	ct := strings.ToLower(m.ContentType)
	var ok bool
	switch p.Type {
	case model.PromptPhoto:
		ok = strings.HasPrefix(ct, "image/")
	case model.PromptVideo:
		ok = strings.HasPrefix(ct, "video/")
	case model.PromptAudio:
		ok = strings.HasPrefix(ct, "audio/")
	case model.PromptFile:
		ok = true
	case model.PromptText, model.PromptNumber, model.PromptHoursBeforeNow, model.PromptTimestamp,
		model.PromptSingleChoice, model.PromptMultiChoice:
		return fail(CodeInvalidMedia, "The prompt %s does not take media.", p.ID)
	default:
		return fail(CodeInvalidMedia, "The prompt %s has an unknown type %s.", p.ID, p.Type)
	}
	if !ok {
		return fail(CodeInvalidMedia, "The media %s of type %s cannot answer the %s prompt %s.", m.ID, m.ContentType, p.Type, p.ID)
	}
	if p.MaxFileSize > 0 && m.Size() > p.MaxFileSize {
		return fail(CodeInvalidMedia, "The media %s exceeds the maximum size of %d bytes of prompt %s.", m.ID, p.MaxFileSize, p.ID)
	}
	return nil
}
