package workflow

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/stockd/pkg/models"
)

var ErrUnknownTemplate = errors.New("unknown workflow template")

// TemplatePortfolioReview checks alerts, researches held tickers, and
// computes rebalancing suggestions, in that order.
const TemplatePortfolioReview = "portfolio_review"

// templates are canned definitions instantiated per user.
var templates = map[string]func() *models.WorkflowDefinition{
	TemplatePortfolioReview: func() *models.WorkflowDefinition {
		return &models.WorkflowDefinition{
			Name: "Portfolio Review",
			Type: TemplatePortfolioReview,
			Mode: models.ModeSequential,
			Nodes: []models.Node{
				{ID: "check_alerts", Type: models.NodeAgent, Agent: "price_alert", IsEntry: true},
				{ID: "research", Type: models.NodeAgent, Agent: "research"},
				{ID: "rebalance", Type: models.NodeAgent, Agent: "rebalancing", IsFinish: true},
			},
			Edges: []models.Edge{
				{From: "check_alerts", To: "research"},
				{From: "research", To: "rebalance"},
			},
		}
	},
}

// FromTemplate returns a fresh definition for the named template.
func FromTemplate(name string) (*models.WorkflowDefinition, error) {
	build, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return build(), nil
}

// TemplateNames lists the available templates.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	return names
}
