package service

import (
	"context"
	"fmt"
	"strings"
)

// PromptBuilder renders the system prompt for a character. The character
// catalog lives outside the relay; builders only see the character id.
type PromptBuilder interface {
	Build(ctx context.Context, characterID string) (string, error)
}

const defaultCharacterName = "companion"

type templatePromptBuilder struct {
	template string
}

// NewTemplatePromptBuilder fills the first %s of template with the character id.
// A template without a verb is used verbatim.
func NewTemplatePromptBuilder(template string) PromptBuilder {
	return &templatePromptBuilder{template: template}
}

func (b *templatePromptBuilder) Build(_ context.Context, characterID string) (string, error) {
	if strings.TrimSpace(b.template) == "" {
		return "", fmt.Errorf("prompt template is empty")
	}
	if !strings.Contains(b.template, "%s") {
		return b.template, nil
	}
	if characterID == "" {
		characterID = defaultCharacterName
	}
	return strings.Replace(b.template, "%s", characterID, 1), nil
}
