package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

type LiteratureSearchInput struct {
	Query string `json:"query" jsonschema:"required,description=Topic to search medical literature for"`
}

var cannedLiterature = map[string]string{
	"diabetes":     "Recent studies (2024) show GLP-1 receptor agonists reduce cardiovascular risk in T2DM patients. ADA recommends HbA1c target <7% for most adults.",
	"hypertension": "2024 ACC/AHA guidelines recommend BP target <130/80 mmHg. First-line agents: ACE inhibitors, ARBs, CCBs, thiazide diuretics.",
	"asthma":       "GINA 2024 update: Low-dose ICS-formoterol as preferred reliever for mild asthma. Step-up therapy based on symptom control.",
	"anxiety":      "CBT remains first-line for GAD. SSRIs/SNRIs are first-line pharmacotherapy. Buspirone is an alternative.",
	"migraine":     "CGRP monoclonal antibodies (erenumab, fremanezumab) show efficacy for prophylaxis. Acute treatment: triptans, gepants.",
}

type literatureToolImpl struct{}

func (literatureToolImpl) execute(ctx context.Context, input *LiteratureSearchInput) (string, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	queryLower := strings.ToLower(query)
	for key, result := range cannedLiterature {
		if strings.Contains(queryLower, key) {
			return result, nil
		}
	}
	return fmt.Sprintf("Found 3 review articles on '%s'. Key finding: further research is needed. Consult specialist guidelines for clinical decisions.", query), nil
}

// NewLiteratureSearchTool creates the literature search tool.
func NewLiteratureSearchTool() (tool.InvokableTool, error) {
	return utils.InferTool("search_medical_literature", "Search medical literature databases for research papers and clinical guidelines.", literatureToolImpl{}.execute)
}
