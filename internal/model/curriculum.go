package model

import "time"

// Path は学習パス（カリキュラムの最上位）を表す。
type Path struct {
	ID             string
	Title          string
	Slug           string
	Description    string
	ImageURL       *string
	EstimatedHours int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Section は学習パス内のセクションを表す。
type Section struct {
	ID             string
	PathID         string
	Title          string
	Slug           string
	Description    string
	Order          int
	EstimatedHours int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Lesson はセクション内のレッスンを表す。
// RenderedContent と LastRenderedAt は書き込みスルーで更新される派生値。
type Lesson struct {
	ID               string
	SectionID        string
	Title            string
	Slug             string
	Order            int
	EstimatedMinutes int
	Content          Content
	RenderedContent  *string
	LastRenderedAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LessonContentPatch はレッスンコンテンツ更新時に書き込む値の組。
type LessonContentPatch struct {
	Content         Content
	RenderedContent string
	LastRenderedAt  time.Time
}

// ContentRevision はコンテンツ更新の監査履歴1件を表す。
type ContentRevision struct {
	ID                string
	LessonID          string
	Version           int
	UpdatedBy         string
	ChangeDescription string
	Content           Content
	CreatedAt         time.Time
}
