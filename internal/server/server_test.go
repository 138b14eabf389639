package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/melodin/go_tunes/internal/engine"
)

type stubFormats struct {
	url string
}

func (s *stubFormats) AudioFormats(ctx context.Context, id string) ([]engine.AudioFormat, error) {
	if s.url == "" {
		return nil, nil
	}
	return []engine.AudioFormat{{Itag: 251, Bitrate: 128_000, URL: s.url}}, nil
}

func (s *stubFormats) StreamURL(ctx context.Context, id string, f engine.AudioFormat) (string, error) {
	return s.url, nil
}

func (s *stubFormats) Details(ctx context.Context, id string) (*engine.VideoDetails, error) {
	return &engine.VideoDetails{ID: id, Title: "stub"}, nil
}

func initServerTest(t *testing.T, mutate func(*engine.Config)) *httptest.Server {
	t.Helper()
	c := engine.Config{
		HTTPClient:     &http.Client{Timeout: 5 * time.Second},
		MusicDir:       t.TempDir(),
		AdapterDelay:   time.Millisecond,
		AdapterTimeout: time.Second,
		Formats:        &stubFormats{},
	}
	if mutate != nil {
		mutate(&c)
	}
	engine.Init(c)
	engine.RegisterAdapters()

	srv := httptest.NewServer(NewMux())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func TestHandleSearch(t *testing.T) {
	srv := initServerTest(t, nil)
	engine.RegisterAdapters(engine.Adapter{
		Name: "stub",
		Query: func(_ context.Context, q string, _ int) []engine.SearchResult {
			return []engine.SearchResult{
				engine.NewSearchResult("stub", "dQw4w9WgXcQ", q+" result", 212, "", "ch", 100),
			}
		},
	})

	var body struct {
		Success bool                  `json:"success"`
		Query   string                `json:"query"`
		Results []engine.SearchResult `json:"results"`
		Count   int                   `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/api/search?q=hello&limit=5", &body); code != 200 {
		t.Fatalf("status %d", code)
	}
	if !body.Success || body.Count != 1 || body.Query != "hello" {
		t.Errorf("body = %+v", body)
	}
	if body.Results[0].ID != "dQw4w9WgXcQ" {
		t.Errorf("result = %+v", body.Results[0])
	}
}

func TestHandleSearchNoResults(t *testing.T) {
	srv := initServerTest(t, nil)

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Count   int    `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/api/search?q=nothing", &body); code != 200 {
		t.Fatalf("status %d", code)
	}
	if body.Success || body.Message == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestHandleStreamProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng != "bytes=0-3" {
			t.Errorf("Range = %q", rng)
		}
		w.Header().Set("Content-Type", "audio/webm")
		w.Header().Set("Content-Range", "bytes 0-3/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("data"))
	}))
	defer upstream.Close()

	srv := initServerTest(t, func(c *engine.Config) {
		c.Formats = &stubFormats{url: upstream.URL}
	})

	req, _ := http.NewRequest("GET", srv.URL+"/api/stream/dQw4w9WgXcQ?quality=medium", nil)
	req.Header.Set("Range", "bytes=0-3")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status %d, want 206", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/webm" {
		t.Errorf("Content-Type = %q", ct)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "data" {
		t.Errorf("body = %q", b)
	}
}

func TestHandleStreamNotFound(t *testing.T) {
	srv := initServerTest(t, nil) // stub with no formats

	resp, err := http.Get(srv.URL + "/api/stream/dQw4w9WgXcQ")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
}

func TestHandleStreamInvalidID(t *testing.T) {
	srv := initServerTest(t, nil)
	resp, err := http.Get(srv.URL + "/api/stream/bogus")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestHandleProgressUnknown(t *testing.T) {
	srv := initServerTest(t, nil)
	var body map[string]string
	if code := getJSON(t, srv.URL+"/api/progress/dQw4w9WgXcQ", &body); code != 200 {
		t.Fatalf("status %d", code)
	}
	if body["status"] != "unknown" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestHandleAnalyze(t *testing.T) {
	srv := initServerTest(t, func(c *engine.Config) {
		c.RunCommand = func(_ context.Context, stdout, _ io.Writer, _ string, _ ...string) error {
			_, err := io.WriteString(stdout, `{
			  "format": {"duration": "212.48", "bit_rate": "192000", "size": "5098752"},
			  "streams": [{"codec_name": "mp3", "sample_rate": "44100", "channels": 2}]
			}`)
			return err
		}
	})
	if err := os.WriteFile(
		engine.Cfg.MusicDir+"/dQw4w9WgXcQ_high.mp3", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var body struct {
		Success  bool `json:"success"`
		Analysis struct {
			Format struct {
				Duration string `json:"duration"`
			} `json:"format"`
		} `json:"analysis"`
	}
	if code := getJSON(t, srv.URL+"/api/analyze/dQw4w9WgXcQ?quality=high", &body); code != 200 {
		t.Fatalf("status %d", code)
	}
	if !body.Success || body.Analysis.Format.Duration != "212.48" {
		t.Errorf("body = %+v", body)
	}
}

func TestHandleAnalyzeNotDownloaded(t *testing.T) {
	srv := initServerTest(t, nil)

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if code := getJSON(t, srv.URL+"/api/analyze/dQw4w9WgXcQ", &body); code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", code)
	}
	if body.Success || body.Message != "not downloaded" {
		t.Errorf("body = %+v", body)
	}
}

func TestHandlePlaylist(t *testing.T) {
	srv := initServerTest(t, nil)
	if err := os.WriteFile(
		engine.Cfg.MusicDir+"/dQw4w9WgXcQ_high.mp3", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var body struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/api/playlist", &body); code != 200 {
		t.Fatalf("status %d", code)
	}
	if !body.Success || body.Count != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestHandleStats(t *testing.T) {
	srv := initServerTest(t, nil)
	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "search_requests") {
		t.Errorf("stats body = %q", b)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := initServerTest(t, nil)
	var body map[string]string
	if code := getJSON(t, srv.URL+"/health", &body); code != 200 {
		t.Fatalf("status %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}
