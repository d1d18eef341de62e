package technicians

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"eventpro/internal/common"
	"eventpro/internal/model"
	"eventpro/internal/state"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{"ID", "Nombre", "Especialidad", "Teléfono", "Email", "Fecha Creación"}

// Export renders the session roster as JSON or CSV.
func (s *Service) Export(st *state.Store, format string) ([]byte, string, error) {
	techs := st.Technicians()
	switch strings.ToLower(format) {
	case FormatJSON, "":
		b, err := json.MarshalIndent(techs, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return b, "application/json", nil
	case FormatCSV:
		b, err := toCSV(techs)
		if err != nil {
			return nil, "", err
		}
		return b, "text/csv; charset=utf-8", nil
	}
	return nil, "", common.NewValidationError([]string{"Formato de exportación no soportado: " + format})
}

func toCSV(techs []model.Technician) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, t := range techs {
		created := ""
		if !t.CreatedAt.IsZero() {
			created = t.CreatedAt.Format("2/1/2006")
		}
		row := []string{t.ID, t.Name, model.Deref(t.Specialty), model.Deref(t.Phone), model.Deref(t.Email), created}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Import creates technicians from a JSON array or a single JSON object.
func (s *Service) Import(ctx context.Context, st *state.Store, raw []byte) ([]model.Technician, error) {
	raw = bytes.TrimSpace(raw)
	var inputs []Input
	switch {
	case len(raw) > 0 && raw[0] == '[':
		if err := json.Unmarshal(raw, &inputs); err != nil {
			return nil, common.NewValidationError([]string{"El archivo de importación no es válido"})
		}
	default:
		var in Input
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, common.NewValidationError([]string{"El archivo de importación no es válido"})
		}
		inputs = []Input{in}
	}
	created, err := s.BulkCreate(ctx, st, inputs)
	if err != nil {
		return created, fmt.Errorf("import technicians: %w", err)
	}
	return created, nil
}

// isSkippable reports errors that drop one item of a batch without
// aborting it.
func isSkippable(err error) bool {
	var ve *common.ValidationError
	return errors.As(err, &ve) || errors.Is(err, common.ErrInUse) || errors.Is(err, common.ErrNotFound)
}
