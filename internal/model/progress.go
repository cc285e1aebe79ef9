package model

import "time"

// LessonCompletion はユーザーのレッスン完了記録を表す。
// (UserID, LessonID) の組はユニーク。
type LessonCompletion struct {
	ID          string
	UserID      string
	LessonID    string
	CompletedAt time.Time
}

// LessonProgress はセクション進捗内の1レッスン分の完了状態。
type LessonProgress struct {
	LessonID    string
	Title       string
	IsCompleted bool
}

// SectionProgress はセクション単位の進捗。リクエストごとに再計算する。
type SectionProgress struct {
	SectionID        string
	TotalLessons     int
	CompletedLessons int
	LessonProgress   []LessonProgress
}

// SectionProgressSummary は学習パス進捗に含まれるセクションごとの集計。
type SectionProgressSummary struct {
	SectionID  string
	Title      string
	Completed  int
	Total      int
	Percentage int
}

// PathProgress は学習パス単位の進捗。
type PathProgress struct {
	Completed       int
	Total           int
	Percentage      int
	SectionProgress []SectionProgressSummary
}
