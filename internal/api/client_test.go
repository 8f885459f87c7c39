package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/jobman/internal/model"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	}, nil, nil, nil)
}

func TestClient_DoEnvelope_SetsHeaders(t *testing.T) {
	var gotAuth, gotRequestID, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.DoEnvelope(context.Background(), "GET", "/jobs", nil, nil, "token-1", "失敗")
	if err != nil {
		t.Fatalf("DoEnvelope returned error: %v", err)
	}

	if gotAuth != "Bearer token-1" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer token-1")
	}
	if gotRequestID == "" {
		t.Error("X-Request-ID should be set")
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want application/json", gotAccept)
	}
}

func TestClient_DoEnvelope_NoTokenNoAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	if _, err := client.DoEnvelope(context.Background(), "GET", "/jobs/published", nil, nil, "", "失敗"); err != nil {
		t.Fatalf("DoEnvelope returned error: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty for unauthenticated request", gotAuth)
	}
}

func TestClient_DoEnvelope_NormalizesPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[{"_id":"j1"}],"pagination":{"page":2,"pages":7,"total":61}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	res, err := client.DoEnvelope(context.Background(), "GET", "/jobs", nil, nil, "t", "失敗")
	if err != nil {
		t.Fatalf("DoEnvelope returned error: %v", err)
	}

	if res.Pagination == nil {
		t.Fatal("Pagination should be set")
	}
	if res.Pagination.CurrentPage != 2 || res.Pagination.TotalPages != 7 || res.Pagination.Total != 61 {
		t.Errorf("Pagination = %+v, want {2 7 61}", *res.Pagination)
	}
}

func TestClient_DoEnvelope_UsersKeyAndTotalUsersNaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"users":[{"_id":"u1","name":"佐藤"}],"pagination":{"currentPage":1,"totalPages":4,"totalUsers":33}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	res, err := client.DoEnvelope(context.Background(), "GET", "/user/all", nil, nil, "t", "失敗")
	if err != nil {
		t.Fatalf("DoEnvelope returned error: %v", err)
	}

	var users []model.User
	if err := json.Unmarshal(res.Data, &users); err != nil {
		t.Fatalf("Data should carry the users key payload: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u1" {
		t.Errorf("users = %+v, want [u1]", users)
	}
	if res.Pagination.Total != 33 || res.Pagination.TotalPages != 4 {
		t.Errorf("Pagination = %+v, want totalUsers normalized to Total", *res.Pagination)
	}
}

func TestClient_DoEnvelope_ServerErrorMessageVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"success":false,"message":"この求人には既に応募しています"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.DoEnvelope(context.Background(), "POST", "/applications/apply/j1", nil, nil, "t", "応募に失敗しました")
	if err == nil {
		t.Fatal("expected error for 409 response")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error should be *model.APIError, got %T", err)
	}
	if apiErr.Message != "この求人には既に応募しています" {
		t.Errorf("Message = %q, want server message verbatim", apiErr.Message)
	}
}

func TestClient_DoEnvelope_ServerErrorWithoutMessage_UsesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`oops`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.DoEnvelope(context.Background(), "GET", "/jobs", nil, nil, "t", "求人一覧の取得に失敗しました")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error should be *model.APIError, got %T", err)
	}
	if apiErr.Message != "求人一覧の取得に失敗しました" {
		t.Errorf("Message = %q, want fallback", apiErr.Message)
	}
}

func TestClient_TransportError_ReturnsRequestFailed(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1") // 接続できないポート

	_, err := client.DoRaw(context.Background(), "GET", "/auth/me", nil, nil, "t", "失敗")
	if err == nil {
		t.Fatal("expected transport error")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error should be *model.APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeRequestFailed {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeRequestFailed)
	}
}

func TestClient_PostMultipart_RequestShape(t *testing.T) {
	var gotContentType string
	var gotExperience, gotFileName, gotPartType string
	var gotFileSize int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotExperience = r.FormValue("experience")
		file, header, err := r.FormFile("resume")
		if err != nil {
			t.Errorf("FormFile: %v", err)
		} else {
			defer file.Close()
			data, _ := io.ReadAll(file)
			gotFileSize = len(data)
			gotFileName = header.Filename
			gotPartType = header.Header.Get("Content-Type")
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"message":"応募が完了しました","data":{"_id":"app-1","status":"pending"}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	res, err := client.PostMultipart(context.Background(), "/applications/apply/j1",
		map[string]string{"experience": "3.5"},
		FilePart{FieldName: "resume", FileName: "resume.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 test")},
		"t", "応募に失敗しました")
	if err != nil {
		t.Fatalf("PostMultipart returned error: %v", err)
	}

	mediaType, _, err := mime.ParseMediaType(gotContentType)
	if err != nil || mediaType != "multipart/form-data" {
		t.Errorf("Content-Type = %q, want multipart/form-data", gotContentType)
	}
	if gotExperience != "3.5" {
		t.Errorf("experience field = %q, want %q", gotExperience, "3.5")
	}
	if gotFileName != "resume.pdf" {
		t.Errorf("file name = %q, want resume.pdf", gotFileName)
	}
	if gotPartType != "application/pdf" {
		t.Errorf("file part Content-Type = %q, want application/pdf", gotPartType)
	}
	if gotFileSize != len("%PDF-1.4 test") {
		t.Errorf("file size = %d, want %d", gotFileSize, len("%PDF-1.4 test"))
	}
	if res.Message != "応募が完了しました" {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestClient_QueryParameters(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer srv.Close()

	q := url.Values{}
	q.Set("page", "2")
	q.Set("status", "published")

	client := newTestClient(srv.URL)
	if _, err := client.DoEnvelope(context.Background(), "GET", "/jobs", q, nil, "t", "失敗"); err != nil {
		t.Fatalf("DoEnvelope returned error: %v", err)
	}

	if gotQuery.Get("page") != "2" || gotQuery.Get("status") != "published" {
		t.Errorf("query = %v, want page=2 status=published", gotQuery)
	}
}

func TestDecodeUser_WrappedAndBareEquivalent(t *testing.T) {
	wrapped := []byte(`{"user":{"_id":"u1","name":"田中","role":"applicant"}}`)
	bare := []byte(`{"_id":"u1","name":"田中","role":"applicant"}`)

	u1, err := DecodeUser(wrapped)
	if err != nil {
		t.Fatalf("DecodeUser(wrapped) returned error: %v", err)
	}
	u2, err := DecodeUser(bare)
	if err != nil {
		t.Fatalf("DecodeUser(bare) returned error: %v", err)
	}

	if u1.ID != u2.ID || u1.Name != u2.Name || u1.Role != u2.Role {
		t.Errorf("wrapped %+v and bare %+v should decode identically", u1, u2)
	}
}

func TestDecodeUser_NoID_ReturnsError(t *testing.T) {
	if _, err := DecodeUser([]byte(`{"name":"no id"}`)); err == nil {
		t.Error("expected error for user without id")
	}
}

func TestEndpointLabel_StripsVariableSegments(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/jobs", "/jobs"},
		{"/jobs/68a1f3", "/jobs"},
		{"/jobs/published", "/jobs/published"},
		{"/applications/apply/68a1f3", "/applications/apply"},
		{"/applications/my-applications", "/applications/my-applications"},
		{"/user/all", "/user/all"},
		{"/", "/"},
	}

	for _, tt := range tests {
		if got := endpointLabel(tt.path); got != tt.want {
			t.Errorf("endpointLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
