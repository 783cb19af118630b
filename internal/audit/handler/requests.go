package handler

import (
	"net/http"
	"strconv"
	"time"

	"chainlog/internal/audit/models"
	dErrors "chainlog/pkg/domain-errors"
)

// logRequest is the POST /v1/audit/events body.
type logRequest struct {
	EventType     string         `json:"eventType"`
	Severity      string         `json:"severity"`
	Status        string         `json:"status"`
	UserID        string         `json:"userId"`
	Resource      string         `json:"resource"`
	Action        string         `json:"action"`
	Details       map[string]any `json:"details"`
	CorrelationID string         `json:"correlationId"`
	Source        string         `json:"source"`
	Metadata      map[string]any `json:"metadata"`
}

func (req logRequest) toEvent() models.Event {
	return models.Event{
		EventType:     models.EventType(req.EventType),
		Severity:      models.Severity(req.Severity),
		Status:        models.Status(req.Status),
		UserID:        req.UserID,
		Resource:      req.Resource,
		Action:        req.Action,
		Details:       req.Details,
		CorrelationID: req.CorrelationID,
		Source:        req.Source,
		Metadata:      req.Metadata,
	}
}

// filterFromQuery reads the shared filter parameters used by list and
// export endpoints.
func filterFromQuery(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	filter := models.Filter{
		EventType: models.EventType(q.Get("eventType")),
		Severity:  models.Severity(q.Get("severity")),
		Status:    models.Status(q.Get("status")),
		UserID:    q.Get("userId"),
		Resource:  q.Get("resource"),
		Reverse:   q.Get("order") == "desc",
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.Newf(dErrors.CodeBadRequest, "invalid from time %q", raw)
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.Newf(dErrors.CodeBadRequest, "invalid to time %q", raw)
		}
		filter.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, dErrors.Newf(dErrors.CodeBadRequest, "invalid limit %q", raw)
		}
		filter.Limit = n
	}
	return filter, nil
}

func verifyOptionsFromQuery(r *http.Request) (models.VerifyOptions, error) {
	q := r.URL.Query()
	opts := models.VerifyOptions{
		ScanAll: q.Get("scanAll") == "true",
	}

	if raw := q.Get("fromSeq"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return opts, dErrors.Newf(dErrors.CodeBadRequest, "invalid fromSeq %q", raw)
		}
		opts.Range.FromSeq = n
	}
	if raw := q.Get("toSeq"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return opts, dErrors.Newf(dErrors.CodeBadRequest, "invalid toSeq %q", raw)
		}
		opts.Range.ToSeq = n
	}
	return opts, nil
}
