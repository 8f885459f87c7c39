package applicantjobs

import (
	"context"
	"testing"

	"github.com/hitoshi/jobman/internal/jobs"
	"github.com/hitoshi/jobman/internal/model"
	"github.com/hitoshi/jobman/internal/store"
)

type mockLister struct {
	resetCalls    int
	listCalls     int
	loadMoreCalls int
	gotFilter     jobs.PublishedFilter

	jobs       []model.Job
	pagination store.Pagination
}

func (m *mockLister) ListPublished(ctx context.Context, f jobs.PublishedFilter) error {
	m.listCalls++
	m.gotFilter = f
	return nil
}

func (m *mockLister) LoadMorePublished(ctx context.Context) error {
	m.loadMoreCalls++
	return nil
}

func (m *mockLister) ResetPublished() { m.resetCalls++ }

func (m *mockLister) PublishedJobs() []model.Job { return m.jobs }

func (m *mockLister) PublishedPagination() store.Pagination { return m.pagination }

// TestService_SetFilters_StoresAndResets はフィルタ設定が条件を保持し、
// 一覧を1ページ目に巻き戻すことを検証する。
func TestService_SetFilters_StoresAndResets(t *testing.T) {
	lister := &mockLister{}
	s := NewService(lister)

	f := jobs.PublishedFilter{Search: "Go", Location: "東京", Skills: []string{"Go"}}
	s.SetFilters(f)

	if lister.resetCalls != 1 {
		t.Errorf("ResetPublished calls = %d, want 1", lister.resetCalls)
	}
	if got := s.Filters(); got.Search != "Go" || got.Location != "東京" {
		t.Errorf("Filters = %+v, want stored filter", got)
	}
}

// TestService_Fetch_UsesStoredFilters は取得が直近に設定された
// フィルタを使うことを検証する。
func TestService_Fetch_UsesStoredFilters(t *testing.T) {
	lister := &mockLister{}
	s := NewService(lister)

	s.SetFilters(jobs.PublishedFilter{Location: "大阪"})
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if lister.listCalls != 1 {
		t.Errorf("ListPublished calls = %d, want 1", lister.listCalls)
	}
	if lister.gotFilter.Location != "大阪" {
		t.Errorf("filter = %+v, want the stored filter", lister.gotFilter)
	}
}

// TestService_ClearFilters はフィルタ解除がゼロ値に戻し、
// 一覧を巻き戻すことを検証する。
func TestService_ClearFilters(t *testing.T) {
	lister := &mockLister{}
	s := NewService(lister)

	s.SetFilters(jobs.PublishedFilter{Search: "Go"})
	s.ClearFilters()

	got := s.Filters()
	if got.Search != "" || got.Location != "" || len(got.Skills) != 0 {
		t.Errorf("Filters = %+v, want zero value after clear", got)
	}
	if lister.resetCalls != 2 {
		t.Errorf("ResetPublished calls = %d, want 2", lister.resetCalls)
	}
}

// TestService_Passthrough は一覧・ページング・続き読み込みの委譲を検証する。
func TestService_Passthrough(t *testing.T) {
	lister := &mockLister{
		jobs:       []model.Job{{ID: "p1"}},
		pagination: store.Pagination{CurrentPage: 2, TotalPages: 5, Total: 44},
	}
	s := NewService(lister)

	if err := s.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore returned error: %v", err)
	}
	if lister.loadMoreCalls != 1 {
		t.Errorf("LoadMorePublished calls = %d, want 1", lister.loadMoreCalls)
	}

	if got := s.Jobs(); len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("Jobs = %+v", got)
	}
	if pg := s.Pagination(); pg.Total != 44 || pg.CurrentPage != 2 {
		t.Errorf("Pagination = %+v", pg)
	}
}
