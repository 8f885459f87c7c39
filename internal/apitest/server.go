// Package apitest はテスト用のインプロセス求人APIを提供する。
// 本物のバックエンドと同じエンベロープ {success, message, data, pagination} と
// 既知の命名の揺れ（/auth/meのラップ有無、ユーザー一覧のusersキー＋totalUsers）を
// 再現し、ルートごとのヒット回数の記録と失敗注入に対応する。
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobman/internal/model"
)

// maxUploadMemory はマルチパート解析に使うメモリ上限。
const maxUploadMemory = 10 << 20

// failure は注入された失敗レスポンス。
type failure struct {
	status  int
	message string
}

// Server はテスト用の求人APIサーバー。
type Server struct {
	router chi.Router

	mu           sync.Mutex
	hits         map[string]int
	failures     map[string]failure
	wrapMe       bool // trueなら/auth/meを{user:{...}}で包んで返す
	nextID       int
	users        map[string]model.User
	passwords    map[string]string // email → password
	tokens       map[string]string // token → user ID
	jobs         map[string]model.Job
	jobOrder     []string
	applications map[string]model.Application
	appOrder     []string
	resumeURLs   map[string]string // application ID → resumeUrl
	dashboard    *model.DashboardSnapshot
	lastUpload   *Upload
}

// Upload は最後に受信した履歴書アップロードの内容。
type Upload struct {
	JobID       string
	FileName    string
	ContentType string
	Size        int64
	Experience  string
	Notes       string
}

// New はServerを生成する。
func New() *Server {
	s := &Server{
		hits:         make(map[string]int),
		failures:     make(map[string]failure),
		users:        make(map[string]model.User),
		passwords:    make(map[string]string),
		tokens:       make(map[string]string),
		jobs:         make(map[string]model.Job),
		applications: make(map[string]model.Application),
		resumeURLs:   make(map[string]string),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP はhttp.Handlerを実装する。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	s.mu.Lock()
	s.hits[key]++
	f, failed := s.failures[key]
	s.mu.Unlock()

	if failed {
		writeJSON(w, f.status, map[string]any{"success": false, "message": f.message})
		return
	}
	s.router.ServeHTTP(w, r)
}

// Hits は指定したメソッドとパスの受信回数を返す。
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// TotalHits は全リクエストの受信回数を返す。
func (s *Server) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}

// FailWith は指定したメソッドとパスへのリクエストを注入された失敗で応答させる。
func (s *Server) FailWith(method, path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, message: message}
}

// ClearFailures は全ての失敗注入を解除する。
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]failure)
}

// SetWrapMe は/auth/meのレスポンスを{user:{...}}で包むかどうかを切り替える。
func (s *Server) SetWrapMe(wrap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrapMe = wrap
}

// AddUser はユーザーを登録し、そのユーザーの認証トークンを返す。
func (s *Server) AddUser(u model.User, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = s.newIDLocked("user")
	}
	s.users[u.ID] = u
	s.passwords[u.Email] = password
	token := "tok-" + u.ID
	s.tokens[token] = u.ID
	return token
}

// AddJob は求人を登録する。
func (s *Server) AddJob(j model.Job) model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = s.newIDLocked("job")
	}
	s.jobs[j.ID] = j
	s.jobOrder = append(s.jobOrder, j.ID)
	return j
}

// AddApplication は応募を登録する。
func (s *Server) AddApplication(a model.Application) model.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = s.newIDLocked("app")
	}
	s.applications[a.ID] = a
	s.appOrder = append(s.appOrder, a.ID)
	return a
}

// SetResumeURL は応募の履歴書ダウンロードURLを設定する。
func (s *Server) SetResumeURL(applicationID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeURLs[applicationID] = url
}

// SetDashboard はダッシュボードのスナップショットを設定する。
func (s *Server) SetDashboard(snap model.DashboardSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboard = &snap
}

// LastUpload は最後に受信した履歴書アップロードの内容を返す。未受信の場合はnil。
func (s *Server) LastUpload() *Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpload
}

func (s *Server) newIDLocked(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)
	r.Get("/auth/me", s.handleMe)

	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/published", s.handleListPublished)
	r.Get("/jobs/stats", s.handleJobStats)
	r.Get("/jobs/admin/dashboard", s.handleDashboard)
	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Put("/jobs/{id}", s.handleUpdateJob)
	r.Delete("/jobs/{id}", s.handleDeleteJob)
	r.Patch("/jobs/{id}/publish", s.handlePublishJob)

	r.Post("/applications/apply/{jobID}", s.handleApply)
	r.Get("/applications", s.handleListApplications)
	r.Get("/applications/my-applications", s.handleMyApplications)
	r.Get("/applications/stats", s.handleApplicationStats)
	r.Get("/applications/job/{jobID}", s.handleApplicationsByJob)
	r.Get("/applications/{id}", s.handleGetApplication)
	r.Patch("/applications/{id}/status", s.handleUpdateApplicationStatus)
	r.Delete("/applications/{id}/withdraw", s.handleWithdraw)
	r.Delete("/applications/{id}", s.handleDeleteApplication)
	r.Get("/applications/{id}/download", s.handleDownloadURL)

	r.Get("/user/all", s.handleListUsers)
	r.Post("/user/create", s.handleCreateUser)
	r.Get("/user/{id}", s.handleGetUser)
	r.Put("/user/{id}", s.handleUpdateUser)
	r.Delete("/user/{id}", s.handleDeleteUser)

	return r
}

// requireAuth はBearerトークンからユーザーを解決する。
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "認証が必要です"})
		return model.User{}, false
	}

	s.mu.Lock()
	userID, found := s.tokens[token]
	u := s.users[userID]
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "トークンが無効です"})
		return model.User{}, false
	}
	return u, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "リクエストが不正です"})
		return
	}

	s.mu.Lock()
	password, exists := s.passwords[body.Email]
	var user model.User
	for _, u := range s.users {
		if u.Email == body.Email {
			user = u
			break
		}
	}
	s.mu.Unlock()

	if !exists || password != body.Password || user.ID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "メールアドレスまたはパスワードが違います"})
		return
	}

	token := "tok-" + user.ID
	s.mu.Lock()
	s.tokens[token] = user.ID
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"role":  user.Role,
		"user":  user,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "リクエストが不正です"})
		return
	}

	s.mu.Lock()
	if _, exists := s.passwords[body.Email]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "message": "このメールアドレスは既に登録されています"})
		return
	}
	user := model.User{
		ID:        s.newIDLocked("user"),
		Name:      body.Name,
		Email:     body.Email,
		Phone:     body.Phone,
		Role:      model.RoleApplicant,
		CreatedAt: time.Now(),
	}
	s.users[user.ID] = user
	s.passwords[user.Email] = body.Password
	token := "tok-" + user.ID
	s.tokens[token] = user.ID
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"role":  user.Role,
		"user":  user,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	wrap := s.wrapMe
	s.mu.Unlock()

	if wrap {
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	s.listJobs(w, r, func(j model.Job) bool { return true })
}

func (s *Server) handleListPublished(w http.ResponseWriter, r *http.Request) {
	s.listJobs(w, r, func(j model.Job) bool { return j.Status == model.JobStatusPublished })
}

// listJobs は求人一覧をクエリで絞り込み、ページングして返す。
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request, include func(model.Job) bool) {
	q := r.URL.Query()
	status := q.Get("status")
	location := q.Get("location")

	s.mu.Lock()
	all := make([]model.Job, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		j := s.jobs[id]
		if !include(j) {
			continue
		}
		if status != "" && string(j.Status) != status {
			continue
		}
		if location != "" && j.Location != location {
			continue
		}
		all = append(all, j)
	}
	s.mu.Unlock()

	page, limit := pageParams(q.Get("page"), q.Get("limit"))
	items, pages := paginate(all, page, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    items,
		"pagination": map[string]any{
			"page":  page,
			"pages": pages,
			"total": len(all),
		},
	})
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}

	s.mu.Lock()
	stats := model.JobStats{}
	for _, j := range s.jobs {
		stats.Total++
		switch j.Status {
		case model.JobStatusDraft:
			stats.Draft++
		case model.JobStatusPublished:
			stats.Published++
		case model.JobStatusClosed:
			stats.Closed++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if user.Role != model.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "管理者のみアクセスできます"})
		return
	}

	s.mu.Lock()
	snap := s.dashboard
	s.mu.Unlock()
	if snap == nil {
		snap = &model.DashboardSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": snap})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}

	var job model.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "リクエストが不正です"})
		return
	}

	s.mu.Lock()
	job.ID = s.newIDLocked("job")
	job.Status = model.JobStatusDraft
	job.CreatedBy = user.ID
	job.CreatedAt = time.Now()
	s.jobs[job.ID] = job
	s.jobOrder = append(s.jobOrder, job.ID)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "求人を作成しました", "data": job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	job, found := s.jobs[id]
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "求人が見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": job})
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var input model.Job
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "リクエストが不正です"})
		return
	}

	s.mu.Lock()
	job, found := s.jobs[id]
	if found {
		job.Title = input.Title
		job.Description = input.Description
		job.RequiredSkills = input.RequiredSkills
		job.Experience = input.Experience
		job.Location = input.Location
		job.Salary = input.Salary
		job.UpdatedAt = time.Now()
		s.jobs[id] = job
	}
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "求人が見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "求人を更新しました", "data": job})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	_, found := s.jobs[id]
	delete(s.jobs, id)
	kept := s.jobOrder[:0]
	for _, existing := range s.jobOrder {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	s.jobOrder = kept
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "求人が見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "求人を削除しました"})
}

func (s *Server) handlePublishJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var body struct {
		Status model.JobStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "不正な状態です"})
		return
	}

	s.mu.Lock()
	job, found := s.jobs[id]
	if found {
		job.Status = body.Status
		job.UpdatedAt = time.Now()
		s.jobs[id] = job
	}
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "求人が見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "公開状態を変更しました", "data": job})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "jobID")

	s.mu.Lock()
	job, found := s.jobs[jobID]
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "求人が見つかりません"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "マルチパートの解析に失敗しました"})
		return
	}
	file, header, err := r.FormFile("resume")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "履歴書ファイルがありません"})
		return
	}
	defer file.Close()
	size, _ := io.Copy(io.Discard, file)

	experienceRaw := r.FormValue("experience")
	years, _ := strconv.ParseFloat(experienceRaw, 64)
	notes := r.FormValue("notes")

	s.mu.Lock()
	app := model.Application{
		ID:              s.newIDLocked("app"),
		Job:             &job,
		Applicant:       &user,
		Status:          model.ApplicationStatusPending,
		ExperienceYears: years,
		Notes:           notes,
		AppliedAt:       time.Now(),
	}
	s.applications[app.ID] = app
	s.appOrder = append(s.appOrder, app.ID)
	s.lastUpload = &Upload{
		JobID:       jobID,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        size,
		Experience:  experienceRaw,
		Notes:       notes,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "応募が完了しました", "data": app})
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	s.listApplications(w, r, func(model.Application) bool { return true })
}

func (s *Server) handleMyApplications(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	s.listApplications(w, r, func(a model.Application) bool {
		return a.Applicant != nil && a.Applicant.ID == user.ID
	})
}

func (s *Server) handleApplicationsByJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	jobID := chi.URLParam(r, "jobID")
	s.listApplications(w, r, func(a model.Application) bool {
		return a.Job != nil && a.Job.ID == jobID
	})
}

// listApplications は応募一覧を絞り込み、ページングして返す。
func (s *Server) listApplications(w http.ResponseWriter, r *http.Request, include func(model.Application) bool) {
	s.mu.Lock()
	all := make([]model.Application, 0, len(s.appOrder))
	for _, id := range s.appOrder {
		a := s.applications[id]
		if include(a) {
			all = append(all, a)
		}
	}
	s.mu.Unlock()

	q := r.URL.Query()
	page, limit := pageParams(q.Get("page"), q.Get("limit"))
	items, pages := paginate(all, page, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    items,
		"pagination": map[string]any{
			"page":  page,
			"pages": pages,
			"total": len(all),
		},
	})
}

func (s *Server) handleApplicationStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}

	s.mu.Lock()
	stats := model.ApplicationStats{}
	for _, a := range s.applications {
		stats.Total++
		switch a.Status {
		case model.ApplicationStatusPending:
			stats.Pending++
		case model.ApplicationStatusReviewed:
			stats.Reviewed++
		case model.ApplicationStatusShortlisted:
			stats.Shortlisted++
		case model.ApplicationStatusSelected:
			stats.Selected++
		case model.ApplicationStatusRejected:
			stats.Rejected++
		case model.ApplicationStatusWithdrawn:
			stats.Withdrawn++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats})
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	app, found := s.applications[id]
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "応募が見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": app})
}

func (s *Server) handleUpdateApplicationStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var body struct {
		Status model.ApplicationStatus `json:"status"`
		Notes  string                  `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "不正な状態です"})
		return
	}

	s.mu.Lock()
	app, found := s.applications[id]
	if found {
		if app.Status.Terminal() {
			s.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]any{"success": false, "message": "終端状態の応募は変更できません"})
			return
		}
		app.Status = body.Status
		if body.Notes != "" {
			app.Notes = body.Notes
		}
		app.UpdatedAt = time.Now()
		s.applications[id] = app
	}
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "応募が見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "選考状態を変更しました", "data": app})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	app, found := s.applications[id]
	if found {
		if app.Applicant == nil || app.Applicant.ID != user.ID {
			s.mu.Unlock()
			writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "自分の応募のみ取り下げできます"})
			return
		}
		if app.Status.Terminal() {
			s.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]any{"success": false, "message": "この応募は取り下げできません"})
			return
		}
		app.Status = model.ApplicationStatusWithdrawn
		app.UpdatedAt = time.Now()
		s.applications[id] = app
	}
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "応募が見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "応募を取り下げました"})
}

func (s *Server) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if user.Role != model.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "管理者のみ削除できます"})
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	_, found := s.applications[id]
	delete(s.applications, id)
	kept := s.appOrder[:0]
	for _, existing := range s.appOrder {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	s.appOrder = kept
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "応募が見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "応募を削除しました"})
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	url, found := s.resumeURLs[id]
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "履歴書が見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "resumeUrl": url})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}

	q := r.URL.Query()
	role := q.Get("role")

	s.mu.Lock()
	all := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		if role != "" && string(u.Role) != role {
			continue
		}
		all = append(all, u)
	}
	s.mu.Unlock()
	sortUsersByID(all)

	page, limit := pageParams(q.Get("page"), q.Get("limit"))
	items, pages := paginate(all, page, limit)
	// ユーザー一覧のみusersキーとtotalUsers/currentPage命名で返る（既知の揺れの再現）
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   items,
		"pagination": map[string]any{
			"currentPage": page,
			"totalPages":  pages,
			"totalUsers":  len(all),
		},
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if user.Role != model.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "管理者のみ作成できます"})
		return
	}

	var body struct {
		Name     string     `json:"name"`
		Email    string     `json:"email"`
		Password string     `json:"password"`
		Role     model.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "リクエストが不正です"})
		return
	}
	if body.Role != model.RoleHR && body.Role != model.RoleAdmin {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "作成できる役割はhrとadminのみです"})
		return
	}

	s.mu.Lock()
	created := model.User{
		ID:        s.newIDLocked("user"),
		Name:      body.Name,
		Email:     body.Email,
		Role:      body.Role,
		CreatedAt: time.Now(),
	}
	s.users[created.ID] = created
	s.passwords[created.Email] = body.Password
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "ユーザーを作成しました", "data": created})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	u, found := s.users[id]
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "ユーザーが見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": u})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var body struct {
		Name  string     `json:"name"`
		Email string     `json:"email"`
		Phone string     `json:"phone"`
		Role  model.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "リクエストが不正です"})
		return
	}

	s.mu.Lock()
	u, found := s.users[id]
	if found {
		if body.Name != "" {
			u.Name = body.Name
		}
		if body.Email != "" {
			u.Email = body.Email
		}
		if body.Phone != "" {
			u.Phone = body.Phone
		}
		if body.Role != "" {
			u.Role = body.Role
		}
		u.UpdatedAt = time.Now()
		s.users[id] = u
	}
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "ユーザーが見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ユーザーを更新しました", "data": u})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if user.Role != model.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "管理者のみ削除できます"})
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	_, found := s.users[id]
	delete(s.users, id)
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "ユーザーが見つかりません"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ユーザーを削除しました"})
}

// pageParams はクエリ文字列からページ番号と件数を解釈する。
func pageParams(pageRaw, limitRaw string) (int, int) {
	page, err := strconv.Atoi(pageRaw)
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(limitRaw)
	if err != nil || limit < 1 {
		limit = 10
	}
	return page, limit
}

// paginate は一覧の指定ページ分を切り出し、総ページ数とともに返す。
func paginate[T any](all []T, page, limit int) ([]T, int) {
	pages := (len(all) + limit - 1) / limit
	if pages < 1 {
		pages = 1
	}
	start := (page - 1) * limit
	if start >= len(all) {
		return []T{}, pages
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], pages
}

// sortUsersByID はID昇順でユーザーを並べる。マップ走査順の揺れを吸収する。
func sortUsersByID(users []model.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
