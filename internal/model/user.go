// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの役割を表す。
type Role string

const (
	// RoleAdmin は管理者。ユーザー管理とダッシュボードにアクセスできる。
	RoleAdmin Role = "admin"
	// RoleHR は人事担当者。求人と応募の管理を行う。
	RoleHR Role = "hr"
	// RoleApplicant は応募者。公開求人の閲覧と応募を行う。
	RoleApplicant Role = "applicant"
)

// Valid は既知の役割かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHR, RoleApplicant:
		return true
	}
	return false
}

// User はサービス利用ユーザーを表す。
// サーバー側のIDフィールドは "_id" で返される。
type User struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// EntityID はキャッシュのキーとなるIDを返す。
func (u User) EntityID() string { return u.ID }
