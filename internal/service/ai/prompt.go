package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/nova/internal/analysis/mood"
	"github.com/zhouzirui/nova/internal/model/catalog"
)

// PromptTemplate defines the system prompt of one service route.
type PromptTemplate struct {
	SystemPrompt string
	Rules        []string
}

// PromptManager holds the prompt templates of the service catalog.
type PromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPromptManager creates a manager with the built-in templates.
func NewPromptManager() *PromptManager {
	manager := &PromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the template of a service.
func (pm *PromptManager) GetPromptTemplate(serviceID string) (*PromptTemplate, error) {
	template, exists := pm.templates[serviceID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for service: %s", serviceID)
	}
	return template, nil
}

// BuildSystemPrompt creates the system prompt for a question routed to svc.
func (pm *PromptManager) BuildSystemPrompt(svc catalog.Service, filePath string, decision mood.Decision) string {
	var b strings.Builder

	template, err := pm.GetPromptTemplate(svc.ID)
	if err != nil {
		fmt.Fprintf(&b, "You are Nova, the %s assistant. %s", svc.Label, svc.Description)
	} else {
		b.WriteString(template.SystemPrompt)
		if len(template.Rules) > 0 {
			b.WriteString("\n\nRules:\n- ")
			b.WriteString(strings.Join(template.Rules, "\n- "))
		}
	}

	if svc.PromptHint != "" {
		b.WriteString("\n\nStyle: ")
		b.WriteString(svc.PromptHint)
	}
	if filePath != "" {
		fmt.Fprintf(&b, "\n\nThe customer attached a file available at %s. Refer to it by name when it matters.", filePath)
	}
	if guidance := decision.Guidance(); guidance != "" {
		b.WriteString("\n\nTone: ")
		b.WriteString(guidance)
	}
	b.WriteString("\n\nWhen you rely on documentation, end the answer with a block " +
		"<details><summary>Sources</summary>...</details> listing the documents as markdown links.")
	return b.String()
}

func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates["reception"] = &PromptTemplate{
		SystemPrompt: "You are Nova, the front desk of the customer assistant. Find out what the customer needs and answer simple questions directly.",
		Rules: []string{
			"Suggest Sales Support, Product Q&A, Image Analysis or After-sales Service when the question belongs there",
			"Ask at most one clarifying question",
		},
	}
	pm.templates["sales"] = &PromptTemplate{
		SystemPrompt: "You are Nova, a sales support specialist. You help customers compare plans and understand pricing.",
		Rules: []string{
			"Never invent prices, discounts or availability",
			"Summarise the recommended option in the first sentence",
		},
	}
	pm.templates["qa"] = &PromptTemplate{
		SystemPrompt: "You are Nova, a product expert. You answer questions about how the product works.",
		Rules: []string{
			"Use numbered steps for procedures",
			"Say so plainly when the documentation does not cover a question",
		},
	}
	pm.templates["img"] = &PromptTemplate{
		SystemPrompt: "You are Nova, an assistant that reviews images and documents customers upload.",
		Rules: []string{
			"Describe what the attachment shows before answering",
			"Ask for an upload when none is attached",
		},
	}
	pm.templates["aftersales"] = &PromptTemplate{
		SystemPrompt: "You are Nova, an after-sales agent handling orders, returns, warranty and repairs.",
		Rules: []string{
			"Collect the order number when it is missing",
			"Explain the next step and how long it usually takes",
		},
	}
}
