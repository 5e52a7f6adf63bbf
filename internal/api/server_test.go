package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/meshforge/internal/artifact"
	"github.com/example/meshforge/internal/library"
	"github.com/example/meshforge/internal/pipeline"
	"github.com/example/meshforge/internal/render"
	"github.com/example/meshforge/internal/state"
	"github.com/example/meshforge/internal/workspace"
	"github.com/example/meshforge/pkg/forgeapi"
)

// newTestServer stands up the full HTTP surface over a shell-script
// compiler. The script is invoked as -o <out> <in>.
func newTestServer(t *testing.T, script string, submitRatePerMin int) *httptest.Server {
	t.Helper()
	root := t.TempDir()

	bin := filepath.Join(root, "fake-openscad")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake compiler: %v", err)
	}

	libs, err := library.NewRegistry(filepath.Join(root, "libraries"), ".scad")
	if err != nil {
		t.Fatalf("library registry: %v", err)
	}
	modelsDir := filepath.Join(root, "models")
	workspaces, err := workspace.NewManager(modelsDir, libs, ".scad", ".stl")
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	profile := render.DefaultProfile()
	profile.Binary = bin
	executor := render.NewExecutor(profile, 5*time.Second)
	artifacts := artifact.NewRegistry(modelsDir, ".stl", artifact.Options{})
	store := state.NewMemoryStore()

	p := pipeline.New(libs, workspaces, executor, artifacts, store)
	ts := httptest.NewServer(NewServer(p, submitRatePerMin).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHello(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp, err := http.Get(ts.URL + "/api/hello")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var hello forgeapi.HelloResponse
	decodeJSON(t, resp, &hello)
	if hello.Message != "meshforge API is running!" {
		t.Fatalf("message = %q", hello.Message)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("status body = %v", body)
	}
}

func TestRenderThenView3D(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	source := "cube([1, 2, 3]);"

	resp := postJSON(t, ts.URL+"/api/render", forgeapi.RenderRequest{ScadCode: source})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("render status = %d", resp.StatusCode)
	}
	var rendered forgeapi.RenderResponse
	decodeJSON(t, resp, &rendered)
	if !strings.HasPrefix(rendered.StlPath, "/api/view3d?file=") {
		t.Fatalf("stlPath = %q", rendered.StlPath)
	}

	view, err := http.Get(ts.URL + rendered.StlPath)
	if err != nil {
		t.Fatalf("view3d: %v", err)
	}
	defer view.Body.Close()
	if view.StatusCode != http.StatusOK {
		t.Fatalf("view3d status = %d", view.StatusCode)
	}
	if ct := view.Header.Get("Content-Type"); ct != "model/stl" {
		t.Fatalf("content type = %q", ct)
	}
	body, err := io.ReadAll(view.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != source {
		t.Fatalf("artifact bytes = %q, want the staged source copied through", body)
	}
}

func TestRenderEmptySource(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp := postJSON(t, ts.URL+"/api/render", forgeapi.RenderRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRenderInvalidBody(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp, err := http.Post(ts.URL+"/api/render", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRenderCompileFailureCarriesDiagnostics(t *testing.T) {
	ts := newTestServer(t, `echo "ERROR: syntax error in line 1" >&2; exit 1`, 0)
	resp := postJSON(t, ts.URL+"/api/render", forgeapi.RenderRequest{ScadCode: "cube("})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["error"] != "compiler process failed" {
		t.Fatalf("error = %q", body["error"])
	}
	if !strings.Contains(body["details"], "ERROR: syntax error") {
		t.Fatalf("details = %q, want compiler stderr", body["details"])
	}
}

func TestGetSTLAttachment(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp := postJSON(t, ts.URL+"/api/getstl", forgeapi.RenderRequest{ScadCode: "sphere(2);"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="model.stl"` {
		t.Fatalf("content disposition = %q", cd)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("empty attachment body")
	}
}

func TestView3DUnknownFile(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp, err := http.Get(ts.URL + "/api/view3d?file=no-such.stl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["error"] != "File not found" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestView3DBadFileParam(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	for _, param := range []string{"", "..%2Fescape.stl", "model.txt"} {
		resp, err := http.Get(ts.URL + "/api/view3d?file=" + param)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("file=%q status = %d, want 400", param, resp.StatusCode)
		}
	}
}

func uploadLibrary(t *testing.T, url, field, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	resp, err := http.Post(url+"/api/upload-library", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	return resp
}

func TestUploadLibrary(t *testing.T) {
	ts := newTestServer(t, `[ -f helper.scad ] || { echo "missing helper" >&2; exit 1; }; cp "$3" "$2"`, 0)

	resp := uploadLibrary(t, ts.URL, "file", "helper.scad", "module helper() { cube(1); }")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var up forgeapi.UploadLibraryResponse
	decodeJSON(t, resp, &up)
	if !up.Success || !strings.Contains(up.Message, "helper.scad") {
		t.Fatalf("upload response = %+v", up)
	}

	// The compiler only succeeds if the library got staged into the job
	// workspace.
	rendered := postJSON(t, ts.URL+"/api/render", forgeapi.RenderRequest{ScadCode: "helper();"})
	defer rendered.Body.Close()
	if rendered.StatusCode != http.StatusOK {
		t.Fatalf("render with library status = %d", rendered.StatusCode)
	}
}

func TestUploadLibraryRejectsBadName(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp := uploadLibrary(t, ts.URL, "file", "notes.txt", "not a library")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadLibraryMissingPart(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp := uploadLibrary(t, ts.URL, "wrong-field", "helper.scad", "x")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["error"] != "no file part in the request" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestJobStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp := postJSON(t, ts.URL+"/api/render", forgeapi.RenderRequest{ScadCode: "cube(3);"})
	var rendered forgeapi.RenderResponse
	decodeJSON(t, resp, &rendered)
	if rendered.JobID == "" {
		t.Fatalf("no job id in render response")
	}

	status, err := http.Get(ts.URL + "/api/jobs/" + rendered.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if status.StatusCode != http.StatusOK {
		t.Fatalf("job status = %d", status.StatusCode)
	}
	var job forgeapi.JobStatusResponse
	decodeJSON(t, status, &job)
	if job.Status != state.JobPublished {
		t.Fatalf("job status = %q, want %q", job.Status, state.JobPublished)
	}
	if job.ArtifactID == "" {
		t.Fatalf("job record has no artifact id")
	}
}

func TestJobStatusUnknown(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp, err := http.Get(ts.URL + "/api/jobs/not-a-job")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRenderRateLimit(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 1)

	first := postJSON(t, ts.URL+"/api/render", forgeapi.RenderRequest{ScadCode: "cube(1);"})
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first render status = %d", first.StatusCode)
	}
	second := postJSON(t, ts.URL+"/api/render", forgeapi.RenderRequest{ScadCode: "cube(1);"})
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second render status = %d, want 429", second.StatusCode)
	}
}

func TestCORSHeadersAndPreflight(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)

	resp, err := http.Get(ts.URL + "/api/hello")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("allow origin = %q", origin)
	}

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/render", nil)
	if err != nil {
		t.Fatalf("build preflight: %v", err)
	}
	pre, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	pre.Body.Close()
	if pre.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", pre.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp, err := http.Get(ts.URL + "/api/render")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	ts := newTestServer(t, `cp "$3" "$2"`, 0)
	resp := postJSON(t, ts.URL+"/api/render", forgeapi.RenderRequest{ScadCode: "cube(1);"})
	resp.Body.Close()

	snap, err := http.Get(ts.URL + "/v1/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	snap.Body.Close()
	if snap.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", snap.StatusCode)
	}

	prom, err := http.Get(ts.URL + "/v1/metrics/prometheus")
	if err != nil {
		t.Fatalf("prometheus metrics: %v", err)
	}
	defer prom.Body.Close()
	if prom.StatusCode != http.StatusOK {
		t.Fatalf("prometheus status = %d", prom.StatusCode)
	}
	if ct := prom.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("prometheus content type = %q", ct)
	}
	body, err := io.ReadAll(prom.Body)
	if err != nil {
		t.Fatalf("read prometheus body: %v", err)
	}
	if !strings.Contains(string(body), "renders_total") {
		t.Fatalf("prometheus output missing renders_total:\n%s", body)
	}
}
