package model

import "time"

// JobStatus は求人の公開状態を表す。
type JobStatus string

const (
	// JobStatusDraft は下書き。応募者には見えない。
	JobStatusDraft JobStatus = "draft"
	// JobStatusPublished は公開中。応募を受け付ける。
	JobStatusPublished JobStatus = "published"
	// JobStatusClosed は募集終了。
	JobStatusClosed JobStatus = "closed"
)

// Valid は既知の状態かどうかを返す。
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusDraft, JobStatusPublished, JobStatusClosed:
		return true
	}
	return false
}

// ExperienceRange は求人が要求する経験年数の範囲を表す。
type ExperienceRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Salary は給与レンジを表す。
type Salary struct {
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	Currency string `json:"currency"`
}

// Job は求人を表す。HR作成者が所有し、状態遷移と更新はサーバーが権限を検証する。
type Job struct {
	ID             string          `json:"_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	RequiredSkills []string        `json:"requiredSkills"`
	Experience     ExperienceRange `json:"experience"`
	Location       string          `json:"location"`
	Salary         Salary          `json:"salary"`
	Status         JobStatus       `json:"status"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt,omitempty"`
}

// EntityID はキャッシュのキーとなるIDを返す。
func (j Job) EntityID() string { return j.ID }

// JobStats は求人の集計情報を表す（GET /jobs/stats）。
type JobStats struct {
	Total     int `json:"total"`
	Draft     int `json:"draft"`
	Published int `json:"published"`
	Closed    int `json:"closed"`
}
