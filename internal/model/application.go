package model

import "time"

// ApplicationStatus は応募の選考状態を表す。
// 遷移の正当性はサーバーが最終判断する。クライアントは終端状態の操作を
// 無効化する以外の遷移表検証を行わない。
type ApplicationStatus string

const (
	ApplicationStatusPending            ApplicationStatus = "pending"
	ApplicationStatusReviewed           ApplicationStatus = "reviewed"
	ApplicationStatusShortlisted        ApplicationStatus = "shortlisted"
	ApplicationStatusInterviewScheduled ApplicationStatus = "interview_scheduled"
	ApplicationStatusSelected           ApplicationStatus = "selected"
	ApplicationStatusRejected           ApplicationStatus = "rejected"
	ApplicationStatusWithdrawn          ApplicationStatus = "withdrawn"
)

// Valid は既知の状態かどうかを返す。
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationStatusPending, ApplicationStatusReviewed,
		ApplicationStatusShortlisted, ApplicationStatusInterviewScheduled,
		ApplicationStatusSelected, ApplicationStatusRejected,
		ApplicationStatusWithdrawn:
		return true
	}
	return false
}

// Terminal は終端状態（withdrawn / rejected / selected）かどうかを返す。
// 終端状態からは二度と遷移しない。
func (s ApplicationStatus) Terminal() bool {
	switch s {
	case ApplicationStatusWithdrawn, ApplicationStatusRejected, ApplicationStatusSelected:
		return true
	}
	return false
}

// Application は求人への応募を表す。
type Application struct {
	ID              string            `json:"_id"`
	Job             *Job              `json:"job,omitempty"`
	Applicant       *User             `json:"applicant,omitempty"`
	Status          ApplicationStatus `json:"status"`
	ExperienceYears float64           `json:"experience"`
	Notes           string            `json:"notes,omitempty"`
	ResumeURL       string            `json:"resumeUrl,omitempty"`
	AppliedAt       time.Time         `json:"appliedAt,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt,omitempty"`
}

// EntityID はキャッシュのキーとなるIDを返す。
func (a Application) EntityID() string { return a.ID }

// CanWithdraw は応募者自身が取り下げ可能かどうかを返す。
// 取り下げは終端状態でない応募に対してのみ許可される。
func (a Application) CanWithdraw() bool {
	return !a.Status.Terminal()
}

// ApplicationStats は応募の集計情報を表す（GET /applications/stats）。
type ApplicationStats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Reviewed    int `json:"reviewed"`
	Shortlisted int `json:"shortlisted"`
	Selected    int `json:"selected"`
	Rejected    int `json:"rejected"`
	Withdrawn   int `json:"withdrawn"`
}
