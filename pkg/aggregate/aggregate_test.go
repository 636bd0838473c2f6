package aggregate

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/specimen-tracking/pkg/gateway/httpclient"
)

func newUpstream(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.RequestURI())
		assert.Equal(t, "1.0", r.Header.Get("X-OpenRosa-Version"))
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		switch r.URL.Path {
		case "/ODKAggregate/formList":
			w.Write([]byte(`<xforms><xform><formID>sdepart</formID></xform></xforms>`))
		case "/ODKAggregate/view/submissionList":
			w.Write([]byte(`<idChunk><idList><id>uuid:1</id></idList></idChunk>`))
		case "/ODKAggregate/view/downloadSubmission":
			w.Write([]byte(`<submission><data><sdepart/></data></submission>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newRouter(srv *httptest.Server) *mux.Router {
	client := NewClient(srv.URL+"/ODKAggregate/", httpclient.New(time.Second), 1)
	router := mux.NewRouter()
	NewHTTPHandler(client).Register(router)
	return router
}

func TestFormListProxy(t *testing.T) {
	srv, _ := newUpstream(t)
	router := newRouter(srv)

	for _, path := range []string{"/odk/formList", "/odk/formlist"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "<formID>sdepart</formID>")
		assert.Equal(t, "text/xml; charset=utf-8", rec.Header().Get("Content-Type"))
	}
}

func TestSubmissionListProxy(t *testing.T) {
	srv, seen := newUpstream(t)
	router := newRouter(srv)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/odk/view/submissionList?formId=sdepart&numEntries=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *seen, 1)
	assert.Equal(t, "/ODKAggregate/view/submissionList?formId=sdepart&numEntries=10", (*seen)[0])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/odk/view/submissionList", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadSubmissionDefaultsTopElement(t *testing.T) {
	srv, seen := newUpstream(t)
	router := newRouter(srv)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/odk/view/downloadSubmission?formId=sdepart&submissionId=uuid:1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<sdepart/>")
	require.Len(t, *seen, 1)
	assert.Contains(t, (*seen)[0], "sdepart%5B%40version%3Dnull+and+uiVersion%3Dnull%5D%2Fsdepart%5B%40key%3Duuid%3A1%5D")
}

func TestUpstreamDown(t *testing.T) {
	srv, _ := newUpstream(t)
	router := newRouter(srv)
	srv.Close()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/odk/formList", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
