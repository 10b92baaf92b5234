package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"camscout/internal/config"
	"camscout/internal/digest"
	"camscout/internal/domain"
	"camscout/internal/identify"
	"camscout/internal/negotiate"
	"camscout/internal/probe"
	"camscout/internal/repository/sqlite"
	"camscout/internal/scan"
	"camscout/internal/service"
)

// fakeCamera is the digest-protected vendor endpoint
type fakeCamera struct {
	password string
	body     string
}

func (f *fakeCamera) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" || !f.validate(auth, r) {
			w.Header().Set("WWW-Authenticate",
				`Digest realm="AXIS_TEST", nonce="n1", qop="auth", algorithm=MD5`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, f.body)
	}
}

func (f *fakeCamera) validate(auth string, r *http.Request) bool {
	fields := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(auth, "Digest "), ", ") {
		if eq := strings.IndexByte(part, '='); eq > 0 {
			fields[strings.TrimSpace(part[:eq])] = strings.Trim(part[eq+1:], `"`)
		}
	}
	ch := &digest.Challenge{Realm: "AXIS_TEST", Nonce: "n1", QOP: "auth", Algorithm: "MD5"}
	want := digest.Response(ch, "root", f.password, r.Method, fields["uri"], fields["cnonce"], fields["nc"])
	return fields["response"] == want
}

// newAPI wires a handler over a real service stack, negotiating only
// the given ports.
func newAPI(t *testing.T, ports []int) (http.Handler, *domain.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	registry := domain.NewRegistry()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	bus := service.NewEventBus()
	identifier := identify.New(digest.NewClient(2*time.Second), cfg.Vendor.ParamPath,
		cfg.Vendor.Markers, cfg.Vendor.SpeakerKeywords)

	var opts []negotiate.Option
	if len(ports) > 0 {
		opts = append(opts, negotiate.WithTiers([][]int{ports}))
	}
	negotiator := negotiate.New(probe.New(300*time.Millisecond, nil), identifier, store, opts...)
	orchestrator := scan.New(scan.Config{Concurrency: 4, ProbeTimeout: 200 * time.Millisecond},
		identifier, nil, registry, store, bus)

	svc := service.NewDiscoveryService(cfg, registry, store, orchestrator, negotiator, identifier, nil, bus)
	h := NewDiscoveryHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("POST /api/scan", h.StartScan)
	mux.HandleFunc("GET /api/scan", h.ListScans)
	mux.HandleFunc("POST /api/scan/service", h.StartServiceScan)
	mux.HandleFunc("POST /api/scan/{id}/cancel", h.CancelScan)
	mux.HandleFunc("GET /api/devices", h.ListDevices)
	mux.HandleFunc("POST /api/devices/{id}/test", h.TestDevice)
	mux.HandleFunc("POST /api/test", h.TestCredentials)
	mux.HandleFunc("GET /api/prediscovery", h.GetPreDiscovery)
	mux.HandleFunc("POST /api/candidates/classify", h.ClassifyCandidates)
	mux.HandleFunc("GET /api/interfaces", h.ListInterfaces)
	mux.HandleFunc("DELETE /api/cache", h.ClearCache)

	return Chain(mux, Recover, CORS, Logger), registry
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStartScanReturnsID(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/scan", `{"cidrs":["127.0.0.1/32"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["scan_id"] == "" {
		t.Error("scan_id missing from response")
	}
}

func TestStartScanRejectsBadBody(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/scan", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartScanRejectsOversizedRange(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/scan", `{"cidrs":["10.0.0.0/8"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a range beyond the host cap", rec.Code)
	}
}

func TestCancelUnknownScan(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/scan/nope/cancel", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListDevicesEmptyIsArray(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestListDevicesInvalidRole(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/devices?role=toaster", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListDevicesRoleFilter(t *testing.T) {
	h, registry := newAPI(t, nil)
	cam := domain.NewDevice("192.168.1.90", 80, domain.ProtocolHTTP, domain.MethodScan)
	cam.Role = domain.RoleCamera
	spk := domain.NewDevice("192.168.1.91", 80, domain.ProtocolHTTP, domain.MethodScan)
	spk.Role = domain.RoleSpeaker
	registry.Upsert(cam)
	registry.Upsert(spk)

	rec := doJSON(t, h, http.MethodGet, "/api/devices?role=speaker", "")
	var devices []domain.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].Role != domain.RoleSpeaker {
		t.Errorf("devices = %+v, want exactly the speaker", devices)
	}
}

func TestTestCredentialsEndToEnd(t *testing.T) {
	cam := &fakeCamera{password: "pass", body: "root.Brand.Brand=AXIS\nroot.Brand.ProdNbr=M3067-P\n"}
	srv := httptest.NewServer(cam.handler())
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	h, _ := newAPI(t, []int{port})

	body := fmt.Sprintf(`{"ip":%q,"username":"root","password":"pass"}`, u.Hostname())
	rec := doJSON(t, h, http.MethodPost, "/api/test", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		OK     bool          `json:"ok"`
		Device domain.Device `json:"device"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.Device.Role != domain.RoleCamera {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTestCredentialsWrongPassword(t *testing.T) {
	cam := &fakeCamera{password: "correct", body: "root.Brand.Brand=AXIS\n"}
	srv := httptest.NewServer(cam.handler())
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	h, _ := newAPI(t, []int{port})

	body := fmt.Sprintf(`{"ip":%q,"username":"root","password":"wrong"}`, u.Hostname())
	rec := doJSON(t, h, http.MethodPost, "/api/test", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["ok"] != false || resp["reason"] != "auth_failed" {
		t.Errorf("resp = %v, want ok=false reason=auth_failed", resp)
	}
}

func TestTestCredentialsMissingIP(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/test", `{"username":"root"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestClassifyRequiresCredentials(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/candidates/classify", `{"credentials":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestClearCache(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodDelete, "/api/cache", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestPreDiscoveryWithoutRunner(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/prediscovery", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap struct {
		InProgress bool  `json:"in_progress"`
		Candidates []any `json:"candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.InProgress {
		t.Error("no pass can be in progress without a runner")
	}
	if snap.Candidates == nil {
		t.Error("candidates must encode as an array")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	rec := httptest.NewRecorder()
	Chain(panicky, Recover).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newAPI(t, nil)
	rec := doJSON(t, h, http.MethodOptions, "/api/devices", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS headers missing")
	}
}
