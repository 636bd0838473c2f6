package aggregate

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/logger"
	"github.com/synaptica-ai/specimen-tracking/pkg/observability/metrics"
)

type HTTPHandler struct {
	client *Client
}

func NewHTTPHandler(client *Client) *HTTPHandler {
	return &HTTPHandler{client: client}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/odk/formList", h.handleFormList).Methods(http.MethodGet)
	router.HandleFunc("/odk/formlist", h.handleFormList).Methods(http.MethodGet)
	router.HandleFunc("/odk/view/submissionList", h.handleSubmissionList).Methods(http.MethodGet)
	router.HandleFunc("/odk/view/downloadSubmission", h.handleDownloadSubmission).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleFormList(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "formList", func(ctx context.Context) (*Response, error) {
		return h.client.FormList(ctx)
	})
}

func (h *HTTPHandler) handleSubmissionList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	formID := q.Get("formId")
	if formID == "" {
		http.Error(w, "formId is required", http.StatusBadRequest)
		return
	}
	numEntries, _ := strconv.Atoi(q.Get("numEntries"))

	logger.Log.WithFields(map[string]interface{}{
		"form_id":     formID,
		"num_entries": numEntries,
	}).Debug("ODK submissionList")
	h.proxy(w, r, "submissionList", func(ctx context.Context) (*Response, error) {
		return h.client.SubmissionList(ctx, formID, numEntries)
	})
}

func (h *HTTPHandler) handleDownloadSubmission(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	formID := q.Get("formId")
	submissionID := q.Get("submissionId")
	if formID == "" || submissionID == "" {
		http.Error(w, "formId and submissionId are required", http.StatusBadRequest)
		return
	}

	logger.Log.WithFields(map[string]interface{}{
		"form_id":       formID,
		"top_element":   q.Get("topElement"),
		"submission_id": submissionID,
	}).Debug("ODK downloadSubmission")
	h.proxy(w, r, "downloadSubmission", func(ctx context.Context) (*Response, error) {
		return h.client.DownloadSubmission(ctx, formID, q.Get("topElement"), submissionID)
	})
}

func (h *HTTPHandler) proxy(w http.ResponseWriter, r *http.Request, endpoint string, call func(context.Context) (*Response, error)) {
	resp, err := call(r.Context())
	if err != nil {
		metrics.ObserveAggregate(endpoint, "error")
		logger.Log.WithError(err).WithField("endpoint", endpoint).Error("ODK Aggregate request failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	metrics.ObserveAggregate(endpoint, strconv.Itoa(resp.StatusCode))

	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
