package apiclient_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"convertd/internal/api"
	"convertd/internal/apiclient"
)

func TestNewAddsScheme(t *testing.T) {
	if _, err := apiclient.New(""); err == nil {
		t.Fatal("expected error for empty address")
	}
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok"})
	}))
	defer srv.Close()

	client, err := apiclient.New(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if gotPath != "/health" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestSubmitSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/convert" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "photo.png" || string(data) != "pixels" {
			t.Errorf("unexpected upload %q %q", header.Filename, data)
		}
		if r.FormValue("convert_to") != "webp" || r.FormValue("quality") != "80" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.ConvertResponse{JobID: "job-1", Message: "Conversion starting"})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("pixels"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	client, _ := apiclient.New(srv.URL)
	resp, err := client.Submit(context.Background(), apiclient.Submission{
		Path:   path,
		Target: "webp",
		Fields: map[string]string{"quality": "80"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.JobID != "job-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestErrorsCarryServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "file not found or expired"})
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL)
	_, err := client.Fetch(context.Background(), "gone", io.Discard)
	if !apiclient.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "file not found or expired") {
		t.Fatalf("expected server message in %q", err)
	}
}

func TestFetchUsesAttachmentName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="job-1_photo.webp"`)
		_, _ = w.Write([]byte("converted"))
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL)
	var buf bytes.Buffer
	name, err := client.Fetch(context.Background(), "job-1", &buf)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if name != "job-1_photo.webp" || buf.String() != "converted" {
		t.Fatalf("unexpected download %q %q", name, buf.String())
	}
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := api.StatusResponse{Status: "processing", Meta: &api.StatusMeta{Progress: 50, Message: "convert"}}
		if calls.Add(1) >= 3 {
			resp = api.StatusResponse{Status: "completed", FileID: "job-1_a.png"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL)
	var seen int
	st, err := client.Wait(context.Background(), "job-1", 5*time.Millisecond, func(api.StatusResponse) { seen++ })
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st.Status != "completed" || seen != 3 {
		t.Fatalf("unexpected final %+v after %d polls", st, seen)
	}
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, _ := apiclient.New(addr)
	_, err := client.Status(context.Background(), "x")
	if !errors.Is(err, apiclient.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
