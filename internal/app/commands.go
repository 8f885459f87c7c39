package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hitoshi/jobman/internal/applications"
	"github.com/hitoshi/jobman/internal/jobs"
	"github.com/hitoshi/jobman/internal/model"
	"github.com/hitoshi/jobman/internal/store"
	"github.com/hitoshi/jobman/internal/users"
)

// restoreSession は保存済み認証情報からセッションを復元し、認証済みであることを要求する。
func restoreSession(ctx context.Context, st *Stores) error {
	if err := st.Session.Bootstrap(ctx); err != nil {
		return err
	}
	if st.Session.Token() == "" {
		return model.NewNotAuthenticatedError()
	}
	return nil
}

func runLogin(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(w)
	email := fs.String("email", "", "メールアドレス")
	password := fs.String("password", "", "パスワード")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := st.Session.Login(ctx, *email, *password); err != nil {
		return err
	}

	snap := st.Session.Snapshot()
	fmt.Fprintf(w, "ログインしました（役割: %s）\n", snap.Role)
	if snap.User != nil {
		fmt.Fprintf(w, "こんにちは、%sさん\n", snap.User.Name)
	}
	return nil
}

func runRegister(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(w)
	name := fs.String("name", "", "名前（3文字以上）")
	email := fs.String("email", "", "メールアドレス")
	phone := fs.String("phone", "", "電話番号（数字10桁）")
	password := fs.String("password", "", "パスワード（6文字以上）")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := st.Session.Register(ctx, *name, *email, *phone, *password); err != nil {
		return err
	}

	fmt.Fprintln(w, "登録が完了しました。応募者としてログイン済みです。")
	return nil
}

func runLogout(ctx context.Context, w io.Writer, st *Stores) error {
	if err := st.Session.Bootstrap(ctx); err != nil {
		return err
	}
	if err := st.Session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "ログアウトしました。")
	return nil
}

func runMe(ctx context.Context, w io.Writer, st *Stores) error {
	if err := restoreSession(ctx, st); err != nil {
		return err
	}
	if err := st.Session.FetchCurrentUser(ctx); err != nil {
		return err
	}

	snap := st.Session.Snapshot()
	if snap.User == nil {
		fmt.Fprintln(w, "ユーザー情報を取得できませんでした。")
		return nil
	}
	fmt.Fprintf(w, "ID:       %s\n", snap.User.ID)
	fmt.Fprintf(w, "名前:     %s\n", snap.User.Name)
	fmt.Fprintf(w, "メール:   %s\n", snap.User.Email)
	if snap.User.Phone != "" {
		fmt.Fprintf(w, "電話番号: %s\n", snap.User.Phone)
	}
	fmt.Fprintf(w, "役割:     %s\n", snap.User.Role)
	return nil
}

func runJobs(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "list":
		return runJobsList(ctx, w, st, args)
	case "published":
		return runJobsPublished(ctx, w, st, args)
	case "get":
		return runJobsGet(ctx, w, st, args)
	case "create":
		return runJobsCreate(ctx, w, st, args)
	case "update":
		return runJobsUpdate(ctx, w, st, args)
	case "delete":
		return runJobsDelete(ctx, w, st, args)
	case "publish":
		return runJobsSetStatus(ctx, w, st, args, model.JobStatusPublished)
	case "close":
		return runJobsSetStatus(ctx, w, st, args, model.JobStatusClosed)
	case "stats":
		return runJobsStats(ctx, w, st)
	default:
		return fmt.Errorf("unknown jobs subcommand: %s", sub)
	}
}

func runJobsList(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	fs := flag.NewFlagSet("jobs list", flag.ContinueOnError)
	fs.SetOutput(w)
	status := fs.String("status", "", "状態で絞り込み（draft/published/closed）")
	location := fs.String("location", "", "勤務地で絞り込み")
	skills := fs.String("skills", "", "スキルで絞り込み（カンマ区切り）")
	pages := fs.Int("pages", 1, "取得するページ数")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	f := jobs.Filter{
		Status:   model.JobStatus(*status),
		Location: *location,
		Skills:   splitSkills(*skills),
	}
	if err := st.Jobs.List(ctx, f); err != nil {
		return err
	}
	for i := 1; i < *pages; i++ {
		if err := st.Jobs.LoadMore(ctx); err != nil {
			return err
		}
	}

	printJobs(w, st.Jobs.Jobs(), st.Jobs.Pagination())
	return nil
}

func runJobsPublished(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	fs := flag.NewFlagSet("jobs published", flag.ContinueOnError)
	fs.SetOutput(w)
	search := fs.String("search", "", "キーワード検索")
	location := fs.String("location", "", "勤務地で絞り込み")
	skills := fs.String("skills", "", "スキルで絞り込み（カンマ区切り）")
	pages := fs.Int("pages", 1, "取得するページ数")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// 公開求人の閲覧は未認証でも可能。保存済みセッションがあれば利用する。
	if err := st.Session.Bootstrap(ctx); err != nil {
		return err
	}

	st.ApplicantJobs.SetFilters(jobs.PublishedFilter{
		Search:   *search,
		Location: *location,
		Skills:   splitSkills(*skills),
	})
	if err := st.ApplicantJobs.Fetch(ctx); err != nil {
		return err
	}
	for i := 1; i < *pages; i++ {
		if err := st.ApplicantJobs.LoadMore(ctx); err != nil {
			return err
		}
	}

	printJobs(w, st.ApplicantJobs.Jobs(), st.ApplicantJobs.Pagination())
	return nil
}

func runJobsGet(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	fs := flag.NewFlagSet("jobs get", flag.ContinueOnError)
	fs.SetOutput(w)
	id := fs.String("id", "", "求人ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	job, err := st.Jobs.GetByID(ctx, *id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "ID:       %s\n", job.ID)
	fmt.Fprintf(w, "タイトル: %s\n", job.Title)
	fmt.Fprintf(w, "状態:     %s\n", job.Status)
	fmt.Fprintf(w, "勤務地:   %s\n", job.Location)
	fmt.Fprintf(w, "スキル:   %s\n", strings.Join(job.RequiredSkills, ", "))
	fmt.Fprintf(w, "経験年数: %d〜%d年\n", job.Experience.Min, job.Experience.Max)
	if job.Salary.Max > 0 {
		fmt.Fprintf(w, "給与:     %d〜%d %s\n", job.Salary.Min, job.Salary.Max, job.Salary.Currency)
	}
	fmt.Fprintf(w, "説明:\n%s\n", st.Jobs.DescriptionText(*job))
	return nil
}

// jobInputFlags は求人の作成・更新で共通のフラグ定義。
func jobInputFlags(fs *flag.FlagSet) (title, description, location, skills *string, expMin, expMax, salaryMin, salaryMax *int, currency *string) {
	title = fs.String("title", "", "タイトル")
	description = fs.String("description", "", "説明")
	location = fs.String("location", "", "勤務地")
	skills = fs.String("skills", "", "必須スキル（カンマ区切り）")
	expMin = fs.Int("exp-min", 0, "必要経験年数（下限）")
	expMax = fs.Int("exp-max", 0, "必要経験年数（上限）")
	salaryMin = fs.Int("salary-min", 0, "給与下限")
	salaryMax = fs.Int("salary-max", 0, "給与上限")
	currency = fs.String("currency", "JPY", "給与通貨")
	return
}

func runJobsCreate(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	fs := flag.NewFlagSet("jobs create", flag.ContinueOnError)
	fs.SetOutput(w)
	title, description, location, skills, expMin, expMax, salaryMin, salaryMax, currency := jobInputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	job, err := st.Jobs.Create(ctx, jobs.Input{
		Title:          *title,
		Description:    *description,
		RequiredSkills: splitSkills(*skills),
		Experience:     model.ExperienceRange{Min: *expMin, Max: *expMax},
		Location:       *location,
		Salary:         model.Salary{Min: *salaryMin, Max: *salaryMax, Currency: *currency},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s（ID: %s、状態: %s）\n", st.Jobs.Success(), job.ID, job.Status)
	return nil
}

func runJobsUpdate(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	fs := flag.NewFlagSet("jobs update", flag.ContinueOnError)
	fs.SetOutput(w)
	id := fs.String("id", "", "求人ID")
	title, description, location, skills, expMin, expMax, salaryMin, salaryMax, currency := jobInputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	job, err := st.Jobs.Update(ctx, *id, jobs.Input{
		Title:          *title,
		Description:    *description,
		RequiredSkills: splitSkills(*skills),
		Experience:     model.ExperienceRange{Min: *expMin, Max: *expMax},
		Location:       *location,
		Salary:         model.Salary{Min: *salaryMin, Max: *salaryMax, Currency: *currency},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s（ID: %s）\n", st.Jobs.Success(), job.ID)
	return nil
}

func runJobsDelete(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	fs := flag.NewFlagSet("jobs delete", flag.ContinueOnError)
	fs.SetOutput(w)
	id := fs.String("id", "", "求人ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := restoreSession(ctx, st); err != nil {
		return err
	}
	if err := st.Jobs.Delete(ctx, *id); err != nil {
		return err
	}

	fmt.Fprintln(w, st.Jobs.Success())
	return nil
}

func runJobsSetStatus(ctx context.Context, w io.Writer, st *Stores, args []string, status model.JobStatus) error {
	fs := flag.NewFlagSet("jobs "+string(status), flag.ContinueOnError)
	fs.SetOutput(w)
	id := fs.String("id", "", "求人ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	job, err := st.Jobs.SetStatus(ctx, *id, status)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s（ID: %s、状態: %s）\n", st.Jobs.Success(), job.ID, job.Status)
	return nil
}

func runJobsStats(ctx context.Context, w io.Writer, st *Stores) error {
	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	stats, err := st.Jobs.FetchStats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "求人総数: %d\n", stats.Total)
	fmt.Fprintf(w, "下書き:   %d\n", stats.Draft)
	fmt.Fprintf(w, "公開中:   %d\n", stats.Published)
	fmt.Fprintf(w, "終了:     %d\n", stats.Closed)
	return nil
}

func runApply(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	fs.SetOutput(w)
	jobID := fs.String("job", "", "応募する求人ID")
	resumePath := fs.String("resume", "", "履歴書ファイル（PDF/DOC/DOCX、5MB以下）")
	experience := fs.String("experience", "", "経験年数（0以上の数値）")
	notes := fs.String("notes", "", "補足メモ")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	data, err := os.ReadFile(*resumePath)
	if err != nil {
		return fmt.Errorf("failed to read resume file: %w", err)
	}

	app, err := st.Applications.Apply(ctx, *jobID, applications.Resume{
		Name: filepath.Base(*resumePath),
		MIME: resumeMIME(*resumePath, data),
		Data: data,
	}, *experience, *notes)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s（応募ID: %s、状態: %s）\n", st.Applications.Success(), app.ID, app.Status)
	return nil
}

func runApplications(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	sub := "mine"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("applications "+sub, flag.ContinueOnError)
	fs.SetOutput(w)
	id := fs.String("id", "", "応募IDまたは求人ID")
	status := fs.String("status", "", "変更後の選考状態")
	notes := fs.String("notes", "", "選考メモ")
	out := fs.String("out", "", "履歴書の保存先ファイル")
	pages := fs.Int("pages", 1, "取得するページ数")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	switch sub {
	case "mine":
		if err := st.Applications.FetchMine(ctx); err != nil {
			return err
		}
		for i := 1; i < *pages; i++ {
			if err := st.Applications.LoadMoreMine(ctx); err != nil {
				return err
			}
		}
		printApplications(w, st.Applications.Mine(), st.Applications.MinePagination())
		return nil

	case "list":
		if err := st.Applications.FetchAll(ctx); err != nil {
			return err
		}
		for i := 1; i < *pages; i++ {
			if err := st.Applications.LoadMoreAll(ctx); err != nil {
				return err
			}
		}
		printApplications(w, st.Applications.All(), st.Applications.AllPagination())
		return nil

	case "job":
		if err := st.Applications.FetchByJob(ctx, *id); err != nil {
			return err
		}
		printApplications(w, st.Applications.ByJob(*id), st.Applications.ByJobPagination(*id))
		return nil

	case "get":
		app, err := st.Applications.GetByID(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "応募ID:   %s\n", app.ID)
		if app.Job != nil {
			fmt.Fprintf(w, "求人:     %s (%s)\n", app.Job.Title, app.Job.ID)
		}
		if app.Applicant != nil {
			fmt.Fprintf(w, "応募者:   %s (%s)\n", app.Applicant.Name, app.Applicant.Email)
		}
		fmt.Fprintf(w, "状態:     %s\n", app.Status)
		fmt.Fprintf(w, "経験年数: %.1f年\n", app.ExperienceYears)
		if app.Notes != "" {
			fmt.Fprintf(w, "メモ:\n%s\n", st.Applications.NotesText(*app))
		}
		return nil

	case "status":
		app, err := st.Applications.UpdateStatus(ctx, *id, model.ApplicationStatus(*status), *notes)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s（応募ID: %s、状態: %s）\n", st.Applications.Success(), app.ID, app.Status)
		return nil

	case "withdraw":
		if err := st.Applications.Withdraw(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintln(w, st.Applications.Success())
		return nil

	case "delete":
		if err := st.Applications.Delete(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintln(w, st.Applications.Success())
		return nil

	case "download":
		if *out == "" {
			return fmt.Errorf("-out is required for download")
		}
		file, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()

		n, err := st.Applications.DownloadResume(ctx, *id, file)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "履歴書を保存しました: %s（%dバイト）\n", *out, n)
		return nil

	case "stats":
		stats, err := st.Applications.FetchStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "応募総数:     %d\n", stats.Total)
		fmt.Fprintf(w, "選考待ち:     %d\n", stats.Pending)
		fmt.Fprintf(w, "書類確認済み: %d\n", stats.Reviewed)
		fmt.Fprintf(w, "選考通過:     %d\n", stats.Shortlisted)
		fmt.Fprintf(w, "採用:         %d\n", stats.Selected)
		fmt.Fprintf(w, "不採用:       %d\n", stats.Rejected)
		fmt.Fprintf(w, "取り下げ:     %d\n", stats.Withdrawn)
		return nil

	default:
		return fmt.Errorf("unknown applications subcommand: %s", sub)
	}
}

func runUsers(ctx context.Context, w io.Writer, st *Stores, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("users "+sub, flag.ContinueOnError)
	fs.SetOutput(w)
	id := fs.String("id", "", "ユーザーID")
	name := fs.String("name", "", "名前")
	email := fs.String("email", "", "メールアドレス")
	phone := fs.String("phone", "", "電話番号")
	password := fs.String("password", "", "パスワード")
	role := fs.String("role", "", "役割（hr/admin/applicant）")
	pages := fs.Int("pages", 1, "取得するページ数")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	switch sub {
	case "list":
		if err := st.Users.List(ctx, model.Role(*role)); err != nil {
			return err
		}
		for i := 1; i < *pages; i++ {
			if err := st.Users.LoadMore(ctx); err != nil {
				return err
			}
		}
		printUsers(w, st.Users.Users(), st.Users.Pagination())
		return nil

	case "get":
		u, err := st.Users.GetByID(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "ID:     %s\n", u.ID)
		fmt.Fprintf(w, "名前:   %s\n", u.Name)
		fmt.Fprintf(w, "メール: %s\n", u.Email)
		fmt.Fprintf(w, "役割:   %s\n", u.Role)
		return nil

	case "create":
		u, err := st.Users.Create(ctx, users.CreateInput{
			Name:     *name,
			Email:    *email,
			Password: *password,
			Role:     model.Role(*role),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s（ID: %s、役割: %s）\n", st.Users.Success(), u.ID, u.Role)
		return nil

	case "update":
		u, err := st.Users.Update(ctx, *id, users.UpdateInput{
			Name:  *name,
			Email: *email,
			Phone: *phone,
			Role:  model.Role(*role),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s（ID: %s）\n", st.Users.Success(), u.ID)
		return nil

	case "delete":
		if err := st.Users.Delete(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintln(w, st.Users.Success())
		return nil

	default:
		return fmt.Errorf("unknown users subcommand: %s", sub)
	}
}

func runDashboard(ctx context.Context, w io.Writer, st *Stores) error {
	if err := restoreSession(ctx, st); err != nil {
		return err
	}

	snap, err := st.Dashboard.Fetch(ctx)
	if err != nil {
		return err
	}

	if snap.QuickStats != nil {
		fmt.Fprintf(w, "求人総数:     %d（うち公開中 %d）\n", snap.QuickStats.TotalJobs, snap.QuickStats.ActiveJobs)
		fmt.Fprintf(w, "応募総数:     %d\n", snap.QuickStats.TotalApplications)
		fmt.Fprintf(w, "ユーザー総数: %d\n", snap.QuickStats.TotalUsers)
	}
	if len(snap.TopJobs) > 0 {
		fmt.Fprintln(w, "応募数上位の求人:")
		for _, j := range snap.TopJobs {
			fmt.Fprintf(w, "  %-30s %d件\n", j.Title, j.Applications)
		}
	}
	if len(snap.TopSkills) > 0 {
		fmt.Fprintln(w, "要求頻度の高いスキル:")
		for _, sk := range snap.TopSkills {
			fmt.Fprintf(w, "  %-20s %d件\n", sk.Skill, sk.Count)
		}
	}
	if len(snap.RecentActivities) > 0 {
		fmt.Fprintln(w, "直近のアクティビティ:")
		for _, a := range snap.RecentActivities {
			fmt.Fprintf(w, "  [%s] %s\n", a.Type, a.Message)
		}
	}
	fmt.Fprintf(w, "取得時刻: %s\n", st.Dashboard.LastUpdated().Format("2006-01-02 15:04:05"))
	return nil
}

// printJobs は求人一覧を表形式で出力する。
func printJobs(w io.Writer, items []model.Job, pg store.Pagination) {
	for _, j := range items {
		fmt.Fprintf(w, "%-12s %-10s %-30s %s\n", j.ID, j.Status, j.Title, j.Location)
	}
	fmt.Fprintf(w, "ページ %d/%d（全%d件）\n", pg.CurrentPage, pg.TotalPages, pg.Total)
}

// printApplications は応募一覧を表形式で出力する。
func printApplications(w io.Writer, items []model.Application, pg store.Pagination) {
	for _, a := range items {
		title := ""
		if a.Job != nil {
			title = a.Job.Title
		}
		applicant := ""
		if a.Applicant != nil {
			applicant = a.Applicant.Name
		}
		fmt.Fprintf(w, "%-12s %-20s %-30s %s\n", a.ID, a.Status, title, applicant)
	}
	fmt.Fprintf(w, "ページ %d/%d（全%d件）\n", pg.CurrentPage, pg.TotalPages, pg.Total)
}

// printUsers はユーザー一覧を表形式で出力する。
func printUsers(w io.Writer, items []model.User, pg store.Pagination) {
	for _, u := range items {
		fmt.Fprintf(w, "%-12s %-10s %-20s %s\n", u.ID, u.Role, u.Name, u.Email)
	}
	fmt.Fprintf(w, "ページ %d/%d（全%d件）\n", pg.CurrentPage, pg.TotalPages, pg.Total)
}

// splitSkills はカンマ区切りのスキル指定を分解する。空要素は除く。
func splitSkills(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// resumeMIME は履歴書ファイルの申告MIMEタイプを決める。
// 拡張子から判定し、未知の拡張子の場合は内容から推定する。
func resumeMIME(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return mimetype.Detect(data).String()
	}
}
