package usecase

import (
	"strings"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// tag precedence when a response carries more than one marker
var controlTags = []struct {
	marker string
	action domain.ActionType
}{
	{domain.TagHandoff, domain.ActionHotLead},
	{domain.TagDiscount, domain.ActionDiscountRequest},
	{domain.TagUnknown, domain.ActionUnknownQuery},
}

// Interpret parses raw model output into a tagged reply
func Interpret(raw string) domain.Reply {
	text := raw
	var tag domain.ActionType
	for _, ct := range controlTags {
		if strings.Contains(text, ct.marker) {
			if tag == "" {
				tag = ct.action
			}
			text = strings.ReplaceAll(text, ct.marker, "")
		}
	}

	if tag != "" {
		clean := strings.TrimSpace(strings.ReplaceAll(text, domain.PartDelimiter, "\n"))
		return domain.Reply{Kind: domain.ReplyEscalation, Tag: tag, Text: clean}
	}

	parts := SplitParts(text)
	if len(parts) == 0 {
		return domain.Reply{Kind: domain.ReplyNone}
	}
	return domain.Reply{Kind: domain.ReplyNormal, Parts: parts}
}

// SplitParts splits text on the part delimiter, dropping empty parts
func SplitParts(text string) []string {
	var parts []string
	for _, p := range strings.Split(text, domain.PartDelimiter) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
