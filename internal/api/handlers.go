package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"labbooking/internal/export"
	"labbooking/internal/models"

	"github.com/rs/zerolog"
)

// envelope is the body of every JSON response.
type envelope struct {
	Code         int     `json:"code"`
	ErrorMessage *string `json:"error_message"`
	Payload      any     `json:"payload"`
}

var errMalformedBody = errors.New("malformed JSON body")

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.deps.Service.GetReservation(r.Context(), q.Get("id"), q.Get("cf"), q.Get("ts"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, res.ToRecord())
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.deps.Service.ListReservations(r.Context(), q.Get("cf"), q.Get("ts"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	records := make([]models.Record, 0, len(list))
	for _, res := range list {
		records = append(records, res.ToRecord())
	}
	writeOK(w, records)
}

func (s *HTTPServer) handleAdd(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeRecord(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// server-assigned fields are ignored on input
	rec.ID, rec.InsertedAt, rec.ModifiedAt = "", "", ""

	candidate, err := models.FromRecord(rec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	added, err := s.deps.Service.AddReservation(r.Context(), candidate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, added.ToRecord())
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeRecord(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	patch, err := models.PatchFromRecord(rec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	updated, err := s.deps.Service.UpdateReservation(r.Context(), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, updated.ToRecord())
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.deps.Service.DeleteReservation(r.Context(), q.Get("id"), q.Get("cf"), q.Get("ts")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, nil)
}

// handleHistory returns the journal of one reservation. Entries are
// restricted to the requesting patient.
func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := models.NewKey(q.Get("id"), q.Get("cf"), q.Get("ts"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]*models.AuditEntry, 0)
	if s.deps.Audit != nil {
		trail, err := s.deps.Audit.GetAuditTrail(r.Context(), key.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, e := range trail {
			if e.FiscalCode == key.FiscalCode && e.HealthCard == key.HealthCard {
				out = append(out, e)
			}
		}
	}
	writeOK(w, out)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseExportFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	list, err := s.deps.Service.ListForExport(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteReservations(&buf, filter, list); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(filter)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// parseExportFilter reads laboratorio, dal and al (inclusive, YYYY-MM-DD).
func parseExportFilter(r *http.Request) (models.ExportFilter, error) {
	q := r.URL.Query()
	filter := models.ExportFilter{Lab: strings.TrimSpace(q.Get("laboratorio"))}

	if v := strings.TrimSpace(q.Get("dal")); v != "" {
		from, err := time.ParseInLocation(models.DateLayout, v, time.Local)
		if err != nil {
			return filter, &models.ValidationError{Field: "dal", Reason: "expected YYYY-MM-DD"}
		}
		filter.From = from
	}
	if v := strings.TrimSpace(q.Get("al")); v != "" {
		to, err := time.ParseInLocation(models.DateLayout, v, time.Local)
		if err != nil {
			return filter, &models.ValidationError{Field: "al", Reason: "expected YYYY-MM-DD"}
		}
		filter.To = to.AddDate(0, 0, 1)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return filter, &models.ValidationError{Field: "al", Reason: "must not precede dal"}
	}
	return filter, nil
}

func (s *HTTPServer) handleLabs(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.deps.Service.Catalog().Labs())
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeOK(w, map[string]string{"status": "ok"})
}

func decodeRecord(r *http.Request) (models.Record, error) {
	var rec models.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return rec, fmt.Errorf("%w: body exceeds %d bytes", errMalformedBody, tooLarge.Limit)
		}
		return rec, fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return rec, nil
}

// statusFor maps a service error to the HTTP status and the message shown
// to the client. Storage and unexpected errors are not described.
func statusFor(err error) (int, string) {
	var se *models.StorageError
	switch {
	case errors.As(err, &se):
		return http.StatusInternalServerError, "internal error"
	case models.IsValidation(err), errors.Is(err, models.ErrDuplicate), errors.Is(err, errMalformedBody):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, models.ErrNotFound.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeError(w, code, msg)
}

func writeOK(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, envelope{Code: http.StatusOK, Payload: payload})
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, envelope{Code: statusCode, ErrorMessage: &message})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
