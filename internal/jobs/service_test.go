package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/jobman/internal/api"
	"github.com/hitoshi/jobman/internal/model"
	"github.com/hitoshi/jobman/internal/store"
)

// --- モック ---

type mockAPI struct {
	mu           sync.Mutex
	calls        []string
	doEnvelopeFn func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error)
}

func (m *mockAPI) DoEnvelope(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, method+" "+path)
	m.mu.Unlock()
	if m.doEnvelopeFn != nil {
		return m.doEnvelopeFn(ctx, method, path, query, body, token, fallback)
	}
	return nil, fmt.Errorf("unexpected call: %s %s", method, path)
}

func (m *mockAPI) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type stubTokens struct {
	token string
	role  model.Role
}

func (s stubTokens) Token() string    { return s.token }
func (s stubTokens) Role() model.Role { return s.role }

func hrTokens() stubTokens        { return stubTokens{token: "tok-hr", role: model.RoleHR} }
func applicantTokens() stubTokens { return stubTokens{token: "tok-ap", role: model.RoleApplicant} }

func jobList(jobs []model.Job, pg *store.Pagination) *api.Result {
	raw, _ := json.Marshal(jobs)
	return &api.Result{Data: raw, Pagination: pg}
}

func jobBody(job model.Job, message string) *api.Result {
	raw, _ := json.Marshal(job)
	return &api.Result{Data: raw, Message: message}
}

func validInput() Input {
	return Input{
		Title:          "バックエンドエンジニア",
		Description:    "Goでの開発経験を活かせます",
		RequiredSkills: []string{"Go", "PostgreSQL"},
		Experience:     model.ExperienceRange{Min: 2, Max: 5},
		Location:       "東京",
		Salary:         model.Salary{Min: 6000000, Max: 9000000, Currency: "JPY"},
	}
}

// --- テスト ---

// TestService_List_ReplacesAndSendsFilter は一覧取得がフィルタを
// クエリに載せ、結果で一覧を置き換えることを検証する。
func TestService_List_ReplacesAndSendsFilter(t *testing.T) {
	var gotQuery url.Values
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			if method != "GET" || path != "/jobs" {
				t.Errorf("unexpected call: %s %s", method, path)
			}
			if token != "tok-hr" {
				t.Errorf("token = %q, want tok-hr", token)
			}
			gotQuery = query
			return jobList([]model.Job{{ID: "j1", Title: "A"}, {ID: "j2", Title: "B"}},
				&store.Pagination{CurrentPage: 1, TotalPages: 3, Total: 21}), nil
		},
	}
	s := NewService(apiMock, hrTokens(), 8, nil)

	err := s.List(context.Background(), Filter{
		Status:   model.JobStatusPublished,
		Location: "東京",
		Skills:   []string{"Go", "Docker"},
	})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}

	if gotQuery.Get("page") != "1" || gotQuery.Get("limit") != "8" {
		t.Errorf("query = %v, want page=1 limit=8", gotQuery)
	}
	if gotQuery.Get("status") != "published" || gotQuery.Get("location") != "東京" || gotQuery.Get("skills") != "Go,Docker" {
		t.Errorf("filter query = %v", gotQuery)
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].ID != "j1" || jobs[1].ID != "j2" {
		t.Errorf("Jobs = %+v, want [j1 j2] in server order", jobs)
	}
	if pg := s.Pagination(); pg.Total != 21 || pg.TotalPages != 3 {
		t.Errorf("Pagination = %+v, want {1 3 21}", pg)
	}
	if s.Loading() {
		t.Error("Loading should be false after List returns")
	}
}

// TestService_List_RequiresHROrAdmin は一覧取得がHR・管理者専用で
// あることを検証する。
func TestService_List_RequiresHROrAdmin(t *testing.T) {
	apiMock := &mockAPI{}
	s := NewService(apiMock, applicantTokens(), 10, nil)

	err := s.List(context.Background(), Filter{})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeForbiddenRole {
		t.Errorf("error = %v, want FORBIDDEN_ROLE", err)
	}
	if apiMock.callCount() != 0 {
		t.Errorf("API calls = %d, want 0", apiMock.callCount())
	}

	s = NewService(apiMock, stubTokens{}, 10, nil)
	err = s.List(context.Background(), Filter{})
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotAuthenticated {
		t.Errorf("error = %v, want NOT_AUTHENTICATED", err)
	}
}

// TestService_LoadMore_AppendsAndKeepsFilter は続きの読み込みが
// 直前のフィルタを引き継ぎ、末尾に累積することを検証する。
func TestService_LoadMore_AppendsAndKeepsFilter(t *testing.T) {
	page := 0
	var gotQueries []url.Values
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			page++
			gotQueries = append(gotQueries, query)
			switch page {
			case 1:
				return jobList([]model.Job{{ID: "j1"}}, &store.Pagination{CurrentPage: 1, TotalPages: 2, Total: 2}), nil
			default:
				return jobList([]model.Job{{ID: "j2"}}, &store.Pagination{CurrentPage: 2, TotalPages: 2, Total: 2}), nil
			}
		},
	}
	s := NewService(apiMock, hrTokens(), 10, nil)

	if err := s.List(context.Background(), Filter{Location: "大阪"}); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadMore(context.Background()); err != nil {
		t.Fatal(err)
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].ID != "j1" || jobs[1].ID != "j2" {
		t.Errorf("Jobs = %+v, want [j1 j2]", jobs)
	}
	if gotQueries[1].Get("page") != "2" || gotQueries[1].Get("location") != "大阪" {
		t.Errorf("LoadMore query = %v, want page=2 with the previous filter", gotQueries[1])
	}

	// 最終ページ到達後は何もしない
	if err := s.LoadMore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if apiMock.callCount() != 2 {
		t.Errorf("API calls = %d, want 2 (no fetch past the last page)", apiMock.callCount())
	}
}

// TestService_ListPublished_NoAuthRequired は公開求人一覧が
// 未認証でも取得できることを検証する。
func TestService_ListPublished_NoAuthRequired(t *testing.T) {
	var gotToken string
	var gotQuery url.Values
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			if path != "/jobs/published" {
				t.Errorf("path = %q, want /jobs/published", path)
			}
			gotToken = token
			gotQuery = query
			return jobList([]model.Job{{ID: "p1", Status: model.JobStatusPublished}},
				&store.Pagination{CurrentPage: 1, TotalPages: 1, Total: 1}), nil
		},
	}
	s := NewService(apiMock, stubTokens{}, 10, nil)

	err := s.ListPublished(context.Background(), PublishedFilter{Search: "Go", Location: "福岡"})
	if err != nil {
		t.Fatalf("ListPublished returned error: %v", err)
	}

	if gotToken != "" {
		t.Errorf("token = %q, want empty for anonymous listing", gotToken)
	}
	if gotQuery.Get("search") != "Go" || gotQuery.Get("location") != "福岡" {
		t.Errorf("query = %v", gotQuery)
	}
	if jobs := s.PublishedJobs(); len(jobs) != 1 || jobs[0].ID != "p1" {
		t.Errorf("PublishedJobs = %+v", jobs)
	}
}

// TestService_ResetPublished_InvalidatesInFlight はフィルタ変更時の
// 巻き戻しが実行中の取得を無効化することを検証する。
func TestService_ResetPublished_InvalidatesInFlight(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			close(blocked)
			<-release
			return jobList([]model.Job{{ID: "stale"}}, &store.Pagination{CurrentPage: 1, TotalPages: 1, Total: 1}), nil
		},
	}
	s := NewService(apiMock, stubTokens{}, 10, nil)

	done := make(chan error, 1)
	go func() {
		done <- s.ListPublished(context.Background(), PublishedFilter{})
	}()
	<-blocked

	s.ResetPublished()
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if jobs := s.PublishedJobs(); len(jobs) != 0 {
		t.Errorf("PublishedJobs = %+v, want stale fetch discarded after Reset", jobs)
	}
}

// TestService_Create_PrependsToList は作成された求人が一覧の
// 先頭に挿入されることを検証する。
func TestService_Create_PrependsToList(t *testing.T) {
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			if method == "GET" {
				return jobList([]model.Job{{ID: "j1"}}, &store.Pagination{CurrentPage: 1, TotalPages: 1, Total: 1}), nil
			}
			if method != "POST" || path != "/jobs" {
				t.Errorf("unexpected call: %s %s", method, path)
			}
			input := body.(Input)
			return jobBody(model.Job{
				ID:     "j-new",
				Title:  input.Title,
				Status: model.JobStatusDraft,
			}, "求人を作成しました"), nil
		},
	}
	s := NewService(apiMock, hrTokens(), 10, nil)
	if err := s.List(context.Background(), Filter{}); err != nil {
		t.Fatal(err)
	}

	job, err := s.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if job.ID != "j-new" || job.Status != model.JobStatusDraft {
		t.Errorf("created job = %+v", job)
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].ID != "j-new" {
		t.Errorf("Jobs = %+v, want the new job at index 0", jobs)
	}
	if pg := s.Pagination(); pg.Total != 2 {
		t.Errorf("Total = %d, want 2 after prepend", pg.Total)
	}
	if s.Success() == "" {
		t.Error("Success message should be set")
	}
}

// TestService_Create_ValidationBeforeNetwork は入力検証エラーが
// ネットワーク送信前に返ることを検証する。
func TestService_Create_ValidationBeforeNetwork(t *testing.T) {
	apiMock := &mockAPI{}
	s := NewService(apiMock, hrTokens(), 10, nil)

	tests := []struct {
		name  string
		input Input
	}{
		{"short title", func() Input { i := validInput(); i.Title = "ab"; return i }()},
		{"no description", func() Input { i := validInput(); i.Description = ""; return i }()},
		{"no skills", func() Input { i := validInput(); i.RequiredSkills = nil; return i }()},
		{"blank skill", func() Input { i := validInput(); i.RequiredSkills = []string{""}; return i }()},
		{"no location", func() Input { i := validInput(); i.Location = ""; return i }()},
		{"inverted experience", func() Input { i := validInput(); i.Experience = model.ExperienceRange{Min: 5, Max: 2}; return i }()},
		{"inverted salary", func() Input { i := validInput(); i.Salary = model.Salary{Min: 900, Max: 100}; return i }()},
	}

	for _, tt := range tests {
		_, err := s.Create(context.Background(), tt.input)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
			t.Errorf("%s: error = %v, want VALIDATION_FAILED", tt.name, err)
		}
	}
	if apiMock.callCount() != 0 {
		t.Errorf("API calls = %d, want 0", apiMock.callCount())
	}
}

// TestService_Create_HROnly は求人作成がHR専用であることを検証する。
func TestService_Create_HROnly(t *testing.T) {
	apiMock := &mockAPI{}
	s := NewService(apiMock, applicantTokens(), 10, nil)

	_, err := s.Create(context.Background(), validInput())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeForbiddenRole {
		t.Errorf("error = %v, want FORBIDDEN_ROLE", err)
	}
	if apiMock.callCount() != 0 {
		t.Errorf("API calls = %d, want 0", apiMock.callCount())
	}
}

// TestService_Update_PatchesListInPlace は更新結果が一覧の並びを
// 変えずにその場で反映されることを検証する。
func TestService_Update_PatchesListInPlace(t *testing.T) {
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			if method == "GET" {
				return jobList([]model.Job{{ID: "j1", Title: "old"}, {ID: "j2"}},
					&store.Pagination{CurrentPage: 1, TotalPages: 1, Total: 2}), nil
			}
			if method != "PUT" || path != "/jobs/j1" {
				t.Errorf("unexpected call: %s %s", method, path)
			}
			return jobBody(model.Job{ID: "j1", Title: "new"}, ""), nil
		},
	}
	s := NewService(apiMock, hrTokens(), 10, nil)
	if err := s.List(context.Background(), Filter{}); err != nil {
		t.Fatal(err)
	}

	input := validInput()
	input.Title = "new"
	if _, err := s.Update(context.Background(), "j1", input); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].ID != "j1" || jobs[0].Title != "new" {
		t.Errorf("Jobs = %+v, want j1 updated in place", jobs)
	}
}

// TestService_Delete_RemovesAndClearsSelection は削除が一覧と
// 選択状態の両方から求人を取り除くことを検証する。
func TestService_Delete_RemovesAndClearsSelection(t *testing.T) {
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			switch {
			case method == "GET" && path == "/jobs":
				return jobList([]model.Job{{ID: "j1"}, {ID: "j2"}},
					&store.Pagination{CurrentPage: 1, TotalPages: 1, Total: 2}), nil
			case method == "GET" && path == "/jobs/j1":
				return jobBody(model.Job{ID: "j1"}, ""), nil
			case method == "DELETE" && path == "/jobs/j1":
				return &api.Result{Message: "求人を削除しました"}, nil
			}
			return nil, fmt.Errorf("unexpected call: %s %s", method, path)
		},
	}
	s := NewService(apiMock, hrTokens(), 10, nil)
	if err := s.List(context.Background(), Filter{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetByID(context.Background(), "j1"); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(context.Background(), "j1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].ID != "j2" {
		t.Errorf("Jobs = %+v, want only j2", jobs)
	}
	if pg := s.Pagination(); pg.Total != 1 {
		t.Errorf("Total = %d, want 1", pg.Total)
	}
	if _, ok := s.Selected(); ok {
		t.Error("selection should be cleared after deleting the selected job")
	}
}

// TestService_SetStatus_NoBody_PatchesStatusOnly はサーバーが更新後の
// 求人を返さない場合に状態のみがパッチされることを検証する。
func TestService_SetStatus_NoBody_PatchesStatusOnly(t *testing.T) {
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			if method == "GET" {
				return jobList([]model.Job{{ID: "j1", Title: "keep", Status: model.JobStatusDraft}},
					&store.Pagination{CurrentPage: 1, TotalPages: 1, Total: 1}), nil
			}
			if method != "PATCH" || path != "/jobs/j1/publish" {
				t.Errorf("unexpected call: %s %s", method, path)
			}
			if got := body.(map[string]string)["status"]; got != "published" {
				t.Errorf("status body = %q, want published", got)
			}
			return &api.Result{Message: "公開しました"}, nil
		},
	}
	s := NewService(apiMock, hrTokens(), 10, nil)
	if err := s.List(context.Background(), Filter{}); err != nil {
		t.Fatal(err)
	}

	job, err := s.SetStatus(context.Background(), "j1", model.JobStatusPublished)
	if err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}
	if job.Status != model.JobStatusPublished || job.Title != "keep" {
		t.Errorf("job = %+v, want status patched and other fields kept", job)
	}

	jobs := s.Jobs()
	if jobs[0].Status != model.JobStatusPublished {
		t.Errorf("list status = %q, want published", jobs[0].Status)
	}
}

// TestService_SetStatus_UnknownStatusRejected は不明な状態値が
// ネットワーク送信前に拒否されることを検証する。
func TestService_SetStatus_UnknownStatusRejected(t *testing.T) {
	apiMock := &mockAPI{}
	s := NewService(apiMock, hrTokens(), 10, nil)

	_, err := s.SetStatus(context.Background(), "j1", model.JobStatus("archived"))
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
		t.Errorf("error = %v, want VALIDATION_FAILED", err)
	}
	if apiMock.callCount() != 0 {
		t.Errorf("API calls = %d, want 0", apiMock.callCount())
	}
}

// TestService_FetchStats はステータス別件数の取得を検証する。
func TestService_FetchStats(t *testing.T) {
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			if path != "/jobs/stats" {
				t.Errorf("path = %q, want /jobs/stats", path)
			}
			raw, _ := json.Marshal(model.JobStats{Total: 12, Draft: 3, Published: 7, Closed: 2})
			return &api.Result{Data: raw}, nil
		},
	}
	s := NewService(apiMock, hrTokens(), 10, nil)

	stats, err := s.FetchStats(context.Background())
	if err != nil {
		t.Fatalf("FetchStats returned error: %v", err)
	}
	if stats.Total != 12 || stats.Published != 7 {
		t.Errorf("stats = %+v", stats)
	}
	if got := s.Stats(); got == nil || got.Draft != 3 {
		t.Errorf("Stats() = %+v, want cached stats", got)
	}
}

// TestService_APIFailure_SetsError はAPI失敗時のエラー表示文言を検証する。
func TestService_APIFailure_SetsError(t *testing.T) {
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			return nil, model.NewServerError(500, "サーバーエラーが発生しました", fallback)
		},
	}
	s := NewService(apiMock, hrTokens(), 10, nil)

	if err := s.List(context.Background(), Filter{}); err == nil {
		t.Fatal("expected error")
	}
	if s.Error() != "サーバーエラーが発生しました" {
		t.Errorf("Error = %q, want server message verbatim", s.Error())
	}

	s.ClearError()
	if s.Error() != "" {
		t.Error("Error should be cleared")
	}
}

// TestService_SuccessClearsError は成功メッセージの設定が直前の
// エラー表示を消すことを検証する。
func TestService_SuccessClearsError(t *testing.T) {
	failing := true
	apiMock := &mockAPI{
		doEnvelopeFn: func(ctx context.Context, method, path string, query url.Values, body any, token, fallback string) (*api.Result, error) {
			if failing {
				return nil, model.NewServerError(500, "一時的なエラー", fallback)
			}
			return jobBody(model.Job{ID: "j-new", Status: model.JobStatusDraft}, ""), nil
		},
	}
	s := NewService(apiMock, hrTokens(), 10, nil)

	_, _ = s.Create(context.Background(), validInput())
	if s.Error() == "" {
		t.Fatal("Error should be set after failure")
	}

	failing = false
	if _, err := s.Create(context.Background(), validInput()); err != nil {
		t.Fatal(err)
	}
	if s.Error() != "" {
		t.Error("Error should be cleared by a subsequent success")
	}
	if s.Success() == "" {
		t.Error("Success should be set")
	}
}

// TestService_DescriptionText_StripsHTML は求人説明文のHTML除去を検証する。
func TestService_DescriptionText_StripsHTML(t *testing.T) {
	s := NewService(&mockAPI{}, hrTokens(), 10, nil)

	job := model.Job{Description: "<p>Goエンジニア募集</p><script>alert(1)</script>"}
	got := s.DescriptionText(job)
	if got == "" {
		t.Fatal("DescriptionText returned empty")
	}
	for _, forbidden := range []string{"<p>", "<script>", "alert(1)"} {
		if strings.Contains(got, forbidden) {
			t.Errorf("DescriptionText = %q, must not contain %q", got, forbidden)
		}
	}
}
