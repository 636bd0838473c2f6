package collect

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/logger"
	"github.com/synaptica-ai/specimen-tracking/pkg/odk"
)

const (
	submissionField   = "xml_submission_file"
	openRosaVersion   = "1.0"
	multipartMemLimit = 32 << 20
)

type HTTPHandler struct {
	service        *Service
	maxBody        int64
	publisherToken string
}

func NewHTTPHandler(service *Service, maxBody int64, publisherToken string) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody, publisherToken: publisherToken}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/odk/submission", h.handleSubmissionProbe).Methods(http.MethodHead, http.MethodGet)
	router.HandleFunc("/odk/submission", h.handleSubmission).Methods(http.MethodPost)
	router.HandleFunc("/odk/publish", h.handlePublish).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/submissions/{id}", h.handleStatus).Methods(http.MethodGet)
}

func (h *HTTPHandler) openRosaHeaders(w http.ResponseWriter) {
	w.Header().Set("X-OpenRosa-Version", openRosaVersion)
	if h.maxBody > 0 {
		w.Header().Set("X-OpenRosa-Accept-Content-Length", strconv.FormatInt(h.maxBody, 10))
	}
}

// ODK Collect probes the submission URL with HEAD before posting.
func (h *HTTPHandler) handleSubmissionProbe(w http.ResponseWriter, r *http.Request) {
	h.openRosaHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleSubmission(w http.ResponseWriter, r *http.Request) {
	h.openRosaHeaders(w)
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	raw, err := readSubmission(r)
	if err != nil {
		logger.Log.WithError(err).Warn("invalid submission body")
		http.Error(w, "invalid submission body", http.StatusBadRequest)
		return
	}

	res, err := h.service.Submit(r.Context(), Submission{Source: SourceCollect, Format: FormatXML, Raw: raw})
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "Submission successful")
	case IsUnresolved(err):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(res)
	case IsRejection(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Log.WithError(err).Error("failed to process submission")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func readSubmission(r *http.Request) ([]byte, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	switch mediaType {
	case "text/xml", "application/xml":
		return io.ReadAll(r.Body)
	}

	if err := r.ParseMultipartForm(multipartMemLimit); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile(submissionField)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (h *HTTPHandler) handlePublish(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	payload, err := odk.DecodePublishPayload(r.Body)
	if err != nil {
		logger.Log.WithError(err).Warn("invalid publisher payload")
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.publisherToken != "" && payload.Token != h.publisherToken {
		writeJSONError(w, http.StatusBadRequest, "Invalid publisher token")
		return
	}

	failed := 0
	for i := range payload.Data {
		raw, err := payload.Raw(i)
		if err != nil {
			logger.Log.WithError(err).WithField("form_id", payload.FormID).Warn("failed to encode published record")
			continue
		}
		_, err = h.service.Submit(r.Context(), Submission{Source: SourcePublisher, Format: FormatJSON, Raw: raw})
		if err != nil && !IsUnresolved(err) && !IsRejection(err) {
			failed++
		}
	}

	// Aggregate republishes the batch on a non-2xx; processed records are
	// then caught by dedup.
	if failed > 0 {
		writeJSONError(w, http.StatusInternalServerError, "failed to process published records")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.service.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "submission not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch submission status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
