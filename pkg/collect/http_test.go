package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, token string) (*mux.Router, *testEnv) {
	t.Helper()
	env := newTestEnv(t, nil, 0)
	router := mux.NewRouter()
	NewHTTPHandler(env.svc, 1<<20, token).Register(router)
	return router, env
}

func multipartSubmission(t *testing.T, raw []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(submissionField, "submission.xml")
	require.NoError(t, err)
	_, err = part.Write(raw)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestSubmissionProbe(t *testing.T) {
	router, _ := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/odk/submission", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1.0", rec.Header().Get("X-OpenRosa-Version"))
	assert.Equal(t, "1048576", rec.Header().Get("X-OpenRosa-Accept-Content-Length"))
}

func TestSubmissionMultipart(t *testing.T) {
	router, env := newTestRouter(t, "")
	body, contentType := multipartSubmission(t, departureXML(t))
	req := httptest.NewRequest(http.MethodPost, "/odk/submission", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Submission successful", rec.Body.String())
	assert.EqualValues(t, 2, env.countChanges(t))
}

func TestSubmissionStatusCodes(t *testing.T) {
	router, _ := newTestRouter(t, "")

	post := func(raw []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/odk/submission", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "text/xml")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, post([]byte(`<labreport/>`)).Code)
	assert.Equal(t, http.StatusBadRequest, post([]byte(`not xml`)).Code)

	unresolved := post(arrivalXML("uuid:http-1", [2]string{"H1", "blood"}, [2]string{"H2", "blood"}))
	assert.Equal(t, http.StatusAccepted, unresolved.Code)
	var res Result
	require.NoError(t, json.Unmarshal(unresolved.Body.Bytes(), &res))
	assert.Equal(t, StatusUnresolved, res.Status)

	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/"+res.SubmissionID, nil))
	assert.Equal(t, http.StatusOK, statusRec.Code)
	var stored SubmissionRecord
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &stored))
	assert.Equal(t, StatusUnresolved, stored.Status)
	assert.Equal(t, "sample-arrival", stored.FormType)

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/nope", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestSubmissionMissingFile(t *testing.T) {
	router, _ := newTestRouter(t, "")
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/odk/submission", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const publishBody = `{
  "token": "%s",
  "formId": "redepart",
  "data": [
    {
      "end": "2016-01-03T10:00:00.000Z",
      "person": "rtech",
      "srepeat": [
        {"stid": "R1", "labid": "LR1", "stype": "report"},
        {"stid": "R2", "labid": "LR2", "stype": "summary", "condition": "late"}
      ],
      "meta": {"instanceID": "uuid:publish-1"}
    }
  ]
}`

func TestPublishToken(t *testing.T) {
	router, env := newTestRouter(t, "secret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/odk/publish", strings.NewReader(strings.Replace(publishBody, "%s", "wrong", 1))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid publisher token"}`, rec.Body.String())
	assert.EqualValues(t, 0, env.countChanges(t))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/odk/publish", strings.NewReader(strings.Replace(publishBody, "%s", "secret", 1))))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.EqualValues(t, 2, env.countChanges(t))

	recs, err := env.subs.ListByStatus(context.Background(), StatusProcessed, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, SourcePublisher, recs[0].Source)
	assert.Equal(t, "results-departure", recs[0].FormType)
	assert.Equal(t, "uuid:publish-1", recs[0].InstanceID)
}

func TestPublishRejectsPayloadWithoutFormID(t *testing.T) {
	router, _ := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/odk/publish", strings.NewReader(`{"data":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
