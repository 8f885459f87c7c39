package model

import (
	"encoding/json"
	"time"
)

// QuickStats は管理ダッシュボードの概要数値を表す。
type QuickStats struct {
	TotalJobs         int `json:"totalJobs"`
	TotalApplications int `json:"totalApplications"`
	TotalUsers        int `json:"totalUsers"`
	ActiveJobs        int `json:"activeJobs"`
}

// TopJob は応募数上位の求人を表す。
type TopJob struct {
	ID           string `json:"_id"`
	Title        string `json:"title"`
	Applications int    `json:"applications"`
}

// TopSkill は求人で要求頻度の高いスキルを表す。
type TopSkill struct {
	Skill string `json:"skill"`
	Count int    `json:"count"`
}

// TopHR は求人作成数上位のHR担当者を表す。
type TopHR struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Jobs int    `json:"jobs"`
}

// Activity はダッシュボードの直近アクティビティ1件を表す。
type Activity struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DashboardSnapshot は GET /jobs/admin/dashboard の集計結果一式を表す。
// Stats はエンドポイントごとに形が揺れるためそのまま保持し、表示側で解釈する。
type DashboardSnapshot struct {
	Stats            json.RawMessage `json:"stats"`
	QuickStats       *QuickStats     `json:"quickStats"`
	TopJobs          []TopJob        `json:"topJobs"`
	TopSkills        []TopSkill      `json:"topSkills"`
	TopHRs           []TopHR         `json:"topHRs"`
	RecentActivities []Activity      `json:"recentActivities"`
}
