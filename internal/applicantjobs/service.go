// Package applicantjobs は応募者向けの公開求人閲覧ストアを提供する。
// 絞り込み条件はフィルタ変更まで保持され、変更時は必ず1ページ目に巻き戻る。
package applicantjobs

import (
	"context"
	"sync"

	"github.com/hitoshi/jobman/internal/jobs"
	"github.com/hitoshi/jobman/internal/model"
	"github.com/hitoshi/jobman/internal/store"
)

// PublishedLister は公開求人一覧の取得機能のインターフェース。
type PublishedLister interface {
	ListPublished(ctx context.Context, f jobs.PublishedFilter) error
	LoadMorePublished(ctx context.Context) error
	ResetPublished()
	PublishedJobs() []model.Job
	PublishedPagination() store.Pagination
}

// Service は応募者向け公開求人ストア。
// 取得自体はjobsストアの公開求人ビューに委譲し、このストアはフィルタの
// ライフサイクル（設定・解除・1ページ目への巻き戻し）だけを所有する。
type Service struct {
	lister PublishedLister

	mu      sync.Mutex
	filters jobs.PublishedFilter
}

// NewService はServiceを生成する。
func NewService(lister PublishedLister) *Service {
	return &Service{lister: lister}
}

// SetFilters は絞り込み条件を置き換え、一覧を1ページ目に巻き戻す。
// 実行中の取得は無効化され、古いフィルタの結果が混入することはない。
func (s *Service) SetFilters(f jobs.PublishedFilter) {
	s.mu.Lock()
	s.filters = f
	s.mu.Unlock()
	s.lister.ResetPublished()
}

// ClearFilters は絞り込み条件を解除し、一覧を1ページ目に巻き戻す。
func (s *Service) ClearFilters() {
	s.SetFilters(jobs.PublishedFilter{})
}

// Filters は現在の絞り込み条件を返す。
func (s *Service) Filters() jobs.PublishedFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// Fetch は現在のフィルタで公開求人一覧の1ページ目を取得する。
func (s *Service) Fetch(ctx context.Context) error {
	s.mu.Lock()
	f := s.filters
	s.mu.Unlock()
	return s.lister.ListPublished(ctx, f)
}

// LoadMore は次ページを取得して一覧の末尾に累積する。
func (s *Service) LoadMore(ctx context.Context) error {
	return s.lister.LoadMorePublished(ctx)
}

// Jobs は公開求人一覧をサーバー順で返す。
func (s *Service) Jobs() []model.Job {
	return s.lister.PublishedJobs()
}

// Pagination は一覧のページング情報を返す。
func (s *Service) Pagination() store.Pagination {
	return s.lister.PublishedPagination()
}
