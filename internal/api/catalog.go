package api

import (
	"errors"
	"mime"
	"net/http"

	"allocplan/internal/integrations"
	"allocplan/internal/integrations/csvsource"
	"allocplan/internal/integrations/xlsxsource"
	"allocplan/internal/logging"
)

const (
	maxImportBytes = 10 << 20
	xlsxMediaType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// CatalogImportHandler handles POST /v1/catalog/import with a CSV or XLSX body.
func (s *Server) CatalogImportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var src integrations.CatalogSource
	switch mediaType {
	case "text/csv":
		src = csvsource.Source{}
	case xlsxMediaType:
		src = xlsxsource.Source{Sheet: r.URL.Query().Get("sheet")}
	default:
		writeProblem(w, http.StatusUnsupportedMediaType, "Unsupported Media Type", "use text/csv or "+xlsxMediaType, r.URL.Path)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	res, err := integrations.Import(r.Context(), s.Store, src, p.Tenant, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeProblem(w, http.StatusRequestEntityTooLarge, "Catalog too large", err.Error(), r.URL.Path)
		case errors.Is(err, integrations.ErrBadCatalog):
			writeProblem(w, http.StatusBadRequest, "Invalid catalog", err.Error(), r.URL.Path)
		default:
			s.writeImportError(w, r, res, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// importProblem adds the rows already written to a failed import's problem body.
type importProblem struct {
	Problem
	Applied integrations.ImportResult `json:"applied"`
}

func (s *Server) writeImportError(w http.ResponseWriter, r *http.Request, applied integrations.ImportResult, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Log.Error(r.Context(), "catalog import failed", logging.String("path", r.URL.Path), logging.Err(err))
	}
	writeJSON(w, status, importProblem{
		Problem: Problem{
			Type:     "about:blank",
			Title:    "Catalog import failed",
			Status:   status,
			Detail:   err.Error(),
			Instance: r.URL.Path,
		},
		Applied: applied,
	})
}
