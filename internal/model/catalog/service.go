package catalog

import "github.com/zhouzirui/nova/internal/model/chat"

// DefaultServiceID is the route used until the user picks a service.
const DefaultServiceID = "qa"

// Service is one assistant route offered on the welcome prompt.
type Service struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	PromptHint  string `json:"promptHint,omitempty"`
}

// Seed lists the routes the assistant backend serves.
func Seed() []Service {
	return []Service{
		{
			ID:          "reception",
			Label:       "Reception",
			Description: "General questions and routing to the right team.",
			PromptHint:  "Greet briefly, clarify the request and point to the right service when needed.",
		},
		{
			ID:          "sales",
			Label:       "Sales Support",
			Description: "Pricing, plans and purchase questions.",
			PromptHint:  "Be concrete about plans and pricing; never invent discounts.",
		},
		{
			ID:          "qa",
			Label:       "Product Q&A",
			Description: "How the product works and how to use it.",
			PromptHint:  "Answer precisely, cite the relevant product area and keep steps numbered.",
		},
		{
			ID:          "img",
			Label:       "Image Analysis",
			Description: "Questions about an uploaded image or document.",
			PromptHint:  "Describe what the attached file shows before answering the question about it.",
		},
		{
			ID:          "aftersales",
			Label:       "After-sales Service",
			Description: "Orders, returns, warranty and repairs.",
			PromptHint:  "Be empathetic, collect order details and explain the next step.",
		},
	}
}

// Choices turns services into options of a choice prompt.
func Choices(services []Service) []chat.Choice {
	choices := make([]chat.Choice, 0, len(services))
	for _, svc := range services {
		choices = append(choices, chat.Choice{Label: svc.Label, Value: svc.ID})
	}
	return choices
}
