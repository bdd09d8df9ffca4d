package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/medsentry/medsentry/internal/patientdb"
)

type DeleteRecordInput struct {
	PatientID string `json:"patient_id" jsonschema:"required,description=ID of the patient record to delete"`
}

type deleteRecordToolImpl struct {
	store *patientdb.Store
}

func (d *deleteRecordToolImpl) execute(ctx context.Context, input *DeleteRecordInput) (string, error) {
	patientID := strings.TrimSpace(input.PatientID)
	if patientID == "" {
		return "", fmt.Errorf("patient_id is required")
	}

	if d.store.Delete(patientID) {
		return fmt.Sprintf("Patient record %s has been deleted.", patientID), nil
	}
	return fmt.Sprintf("No patient found with ID %s.", patientID), nil
}

// NewDeleteRecordTool creates the record deletion tool.
func NewDeleteRecordTool(store *patientdb.Store) (tool.InvokableTool, error) {
	if store == nil {
		return nil, fmt.Errorf("patient store is required")
	}
	impl := &deleteRecordToolImpl{store: store}
	return utils.InferTool("delete_record", "Delete a patient record from the database by patient ID.", impl.execute)
}
