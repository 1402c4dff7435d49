package cvgen

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"jobpilot/internal/config"
	"jobpilot/internal/cvadapt"
	"jobpilot/internal/models"
	"jobpilot/internal/parser"
	"jobpilot/internal/server"
	"jobpilot/internal/store"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	p := parser.New(parser.DefaultLexicon(), parser.DefaultOptions(), nil)
	counters := store.NewCounters(st, Name)
	svc, err := New(st, p, nil, counters, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return server.NewServer(&config.Config{}, server.ServerConfig{InsecureNoAuth: true}, svc, counters, nil, nil).Handler()
}

func raw(t *testing.T, h http.Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func call(t *testing.T, h http.Handler, method, target string, body any) (int, map[string]any) {
	t.Helper()
	var data []byte
	ct := ""
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			t.Fatal(err)
		}
		ct = "application/json"
	}
	rec := raw(t, h, method, target, ct, data)
	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: invalid JSON %q", method, target, rec.Body.String())
	}
	return rec.Code, out
}

func sampleCV() models.CV {
	return models.CV{
		Summary: "Data analyst building reporting for finance teams.",
		Skills:  []string{"Python", "Excel", "SAP", "Power BI"},
		Experience: []models.ExperienceEntry{{
			Role:        "Analyst",
			Company:     "Acme",
			Duration:    "2019-2024",
			Description: "Built Power BI dashboards for 12 business units. Automated reconciliations in Python.",
		}},
		Education: []string{"BSc Economics"},
	}
}

func initiate(t *testing.T, h http.Handler, body map[string]any) string {
	t.Helper()
	code, resp := call(t, h, "POST", "/cv/initiate", body)
	if code != http.StatusCreated || resp["status"] != StatusInitiated {
		t.Fatalf("initiate = %d %v", code, resp)
	}
	return resp["session_id"].(string)
}

func TestGenerateScoresRoleCoverage(t *testing.T) {
	h := newTestHandler(t)
	id := initiate(t, h, map[string]any{"target_role": "Data Engineer", "output_formats": []string{"txt", "PDF"}, "language": "xx"})

	code, resp := call(t, h, "POST", "/cv/generate/"+id, sampleCV())
	if code != http.StatusOK {
		t.Fatalf("generate = %d %v", code, resp)
	}
	if resp["status"] != StatusCompleted || resp["cv_generated"] != true || resp["keywords_optimized"] != true {
		t.Errorf("resp = %v", resp)
	}
	if resp["optimization_score"] != 0.5 || resp["adaptation_applied"] != false {
		t.Errorf("score = %v adapted = %v", resp["optimization_score"], resp["adaptation_applied"])
	}
	files := resp["files"].([]any)
	if len(files) != 2 || resp["format"] != "txt" {
		t.Fatalf("files = %v", files)
	}

	txt := raw(t, h, "GET", resp["download_url"].(string), "", nil)
	if txt.Code != http.StatusOK || txt.Header().Get("Content-Type") != "text/plain; charset=utf-8" || !strings.Contains(txt.Body.String(), "Power BI") {
		t.Errorf("txt download = %d %q", txt.Code, txt.Header().Get("Content-Type"))
	}
	pdf := raw(t, h, "GET", files[1].(map[string]any)["download_url"].(string), "", nil)
	if pdf.Code != http.StatusOK || !strings.HasPrefix(pdf.Body.String(), "%PDF") {
		t.Errorf("pdf download = %d", pdf.Code)
	}

	_, status := call(t, h, "GET", "/cv/status/"+id, nil)
	if status["language"] != "en" || len(status["generations"].([]any)) != 2 {
		t.Errorf("status = %v", status)
	}
}

func TestGenerateAdaptsToTargetDescription(t *testing.T) {
	h := newTestHandler(t)
	id := initiate(t, h, map[string]any{
		"target_role":        "BI Developer",
		"target_description": "Requirements: Power BI, SQL and Python. Experience with finance data.",
		"output_formats":     []string{"md"},
	})
	code, resp := call(t, h, "POST", "/cv/generate/"+id, sampleCV())
	if code != http.StatusOK || resp["adaptation_applied"] != true || resp["variant_id"] == nil {
		t.Fatalf("generate = %d %v", code, resp)
	}
	if score := resp["optimization_score"].(float64); score <= 0 || score > 1 {
		t.Errorf("score = %v", score)
	}
	md := raw(t, h, "GET", resp["download_url"].(string), "", nil)
	if strings.Contains(strings.ToLower(md.Body.String()), "sql") {
		t.Error("rendered variant claims SQL, which the CV never evidences")
	}
}

func TestGenerateErrors(t *testing.T) {
	h := newTestHandler(t)
	if code, _ := call(t, h, "POST", "/cv/initiate", map[string]any{"output_formats": []string{"xlsx"}}); code != http.StatusBadRequest {
		t.Errorf("xlsx accepted for CVs: %d", code)
	}
	if code, _ := call(t, h, "POST", "/cv/initiate", map[string]any{"optimization_level": "extreme"}); code != http.StatusBadRequest {
		t.Errorf("unknown level accepted: %d", code)
	}
	id := initiate(t, h, map[string]any{})
	tests := []struct {
		name   string
		target string
		body   any
		want   int
	}{
		{"unknown session", "/cv/generate/missing", sampleCV(), http.StatusNotFound},
		{"empty cv", "/cv/generate/" + id, map[string]any{"output_formats": []string{"txt"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, body := call(t, h, "POST", tt.target, tt.body); code != tt.want {
				t.Errorf("got %d %v", code, body)
			}
		})
	}
}

func TestDownloadRejectsTraversal(t *testing.T) {
	h := newTestHandler(t)
	for _, target := range []string{"/download/..%2Fcv_sessions.json", "/download/.hidden", "/download/missing.pdf"} {
		rec := raw(t, h, "GET", target, "", nil)
		if rec.Code == http.StatusOK {
			t.Errorf("%s served", target)
		}
	}
}

func multipartBody(t *testing.T, filename, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(content))
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUploadAnalysis(t *testing.T) {
	h := newTestHandler(t)
	id := initiate(t, h, map[string]any{})

	body, ct := multipartBody(t, "my cv.txt", "Summary\nBackend engineer.\n\nSkills:\nPython, SQL, Docker\n\nExperience\nBuilt APIs in Go.\n")
	rec := raw(t, h, "POST", "/cv/upload/"+id, ct, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Uploaded bool           `json:"template_uploaded"`
		Analysis UploadAnalysis `json:"analysis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	a := resp.Analysis
	if !resp.Uploaded || !a.TextExtracted || a.FileFormat != "txt" {
		t.Errorf("analysis = %+v", a)
	}
	if strings.Join(a.SectionsDetected, ",") != "experience,skills,summary" {
		t.Errorf("sections = %v", a.SectionsDetected)
	}
	for _, want := range []string{"python", "sql", "docker"} {
		found := false
		for _, s := range a.SkillsDetected {
			found = found || s == want
		}
		if !found {
			t.Errorf("skill %s not detected in %v", want, a.SkillsDetected)
		}
	}

	bad, ct := multipartBody(t, "cv.exe", "MZ")
	if rec := raw(t, h, "POST", "/cv/upload/"+id, ct, bad); rec.Code != http.StatusBadRequest {
		t.Errorf("exe upload = %d", rec.Code)
	}
	if rec := raw(t, h, "POST", "/cv/upload/missing", ct, body); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d", rec.Code)
	}
}

func TestDeleteRemovesFiles(t *testing.T) {
	h := newTestHandler(t)
	id := initiate(t, h, map[string]any{"output_formats": []string{"txt", "docx"}})
	_, resp := call(t, h, "POST", "/cv/generate/"+id, sampleCV())
	url := resp["download_url"].(string)

	code, del := call(t, h, "DELETE", "/cv/session/"+id, nil)
	if code != http.StatusOK || del["terminated"] != true || del["files_removed"] != float64(2) {
		t.Fatalf("delete = %d %v", code, del)
	}
	if rec := raw(t, h, "GET", url, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("download after delete = %d", rec.Code)
	}
	if code, _ := call(t, h, "GET", "/cv/status/"+id, nil); code != http.StatusNotFound {
		t.Errorf("status after delete = %d", code)
	}
}

func TestAdaptEndpoint(t *testing.T) {
	h := newTestHandler(t)
	parent := sampleCV()
	parent.ID = "cv-1"
	code, resp := call(t, h, "POST", "/cv/adapt", map[string]any{
		"cv":           parent,
		"requirements": models.JobRequirements{RequiredSkills: []string{"Power BI", "SQL", "Python"}},
	})
	if code != http.StatusOK {
		t.Fatalf("adapt = %d %v", code, resp)
	}
	data, _ := json.Marshal(resp)
	var v models.CVVariant
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatal(err)
	}
	if len(v.Content.Skills) < 2 || v.Content.Skills[0] != "Power BI" || v.Content.Skills[1] != "Python" {
		t.Errorf("skills = %v", v.Content.Skills)
	}
	if violations := cvadapt.Audit(parent, v.Content); len(violations) > 0 {
		t.Errorf("fabricated content: %v", violations)
	}
	if code, _ := call(t, h, "POST", "/cv/adapt", map[string]any{"cv": parent}); code != http.StatusBadRequest {
		t.Errorf("adapt without job = %d", code)
	}

	_, m := call(t, h, "GET", "/cv/metrics", nil)
	if m["total_sessions"] != float64(0) || m["requests"].(map[string]any)["POST /cv/adapt"] != float64(2) {
		t.Errorf("metrics = %v", m)
	}
}
