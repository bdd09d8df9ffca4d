package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/medsentry/medsentry/internal/patientdb"
)

type SearchPatientInput struct {
	Query string `json:"query" jsonschema:"required,description=Patient name or diagnosis to search for"`
}

type searchPatientToolImpl struct {
	store *patientdb.Store
}

func (s *searchPatientToolImpl) execute(ctx context.Context, input *SearchPatientInput) (string, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	results := s.store.Search(query)
	if len(results) == 0 {
		return "No patients found matching that query.", nil
	}

	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal patient results: %w", err)
	}
	return string(encoded), nil
}

// NewSearchPatientTool creates the patient lookup tool.
func NewSearchPatientTool(store *patientdb.Store) (tool.InvokableTool, error) {
	if store == nil {
		return nil, fmt.Errorf("patient store is required")
	}
	impl := &searchPatientToolImpl{store: store}
	return utils.InferTool("search_patient", "Search for patients by name or diagnosis. Returns matching patient records.", impl.execute)
}
