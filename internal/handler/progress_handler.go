package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/learnpath/internal/model"
)

// ProgressServiceInterface は進捗ハンドラーが必要とするサービスインターフェース。
// セクションと学習パスの identifier はIDまたはスラッグ。
type ProgressServiceInterface interface {
	GetSectionProgress(ctx context.Context, userID, sectionIdentifier string) (*model.SectionProgress, error)
	GetPathProgress(ctx context.Context, userID, pathIdentifier string) (*model.PathProgress, error)
	MarkLessonCompleted(ctx context.Context, lessonID, userID string) (*model.LessonCompletion, error)
	IsLessonCompleted(ctx context.Context, userID, lessonID string) (bool, error)
	GetUserProgress(ctx context.Context, userID string) (map[string]bool, error)
}

// ProgressHandler は学習進捗のHTTPハンドラー。全エンドポイントで認証が必要。
type ProgressHandler struct {
	service ProgressServiceInterface
}

// NewProgressHandler はProgressHandlerを生成する。
func NewProgressHandler(service ProgressServiceInterface) *ProgressHandler {
	return &ProgressHandler{service: service}
}

type lessonProgressResponse struct {
	LessonID    string `json:"lessonId"`
	Title       string `json:"title"`
	IsCompleted bool   `json:"isCompleted"`
}

type sectionProgressResponse struct {
	SectionID        string                   `json:"sectionId"`
	TotalLessons     int                      `json:"totalLessons"`
	CompletedLessons int                      `json:"completedLessons"`
	LessonProgress   []lessonProgressResponse `json:"lessonProgress"`
}

type sectionSummaryResponse struct {
	SectionID  string `json:"sectionId"`
	Title      string `json:"title"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
}

type pathProgressResponse struct {
	Completed       int                      `json:"completed"`
	Total           int                      `json:"total"`
	Percentage      int                      `json:"percentage"`
	SectionProgress []sectionSummaryResponse `json:"sectionProgress"`
}

type completionResponse struct {
	LessonID    string    `json:"lessonId"`
	Completed   bool      `json:"completed"`
	CompletedAt time.Time `json:"completedAt"`
}

type completionStatusResponse struct {
	LessonID  string `json:"lessonId"`
	Completed bool   `json:"completed"`
}

// GetSectionProgress はセクション内のレッスンごとの完了状態を返す。
// GET /sections/{identifier}/progress
func (h *ProgressHandler) GetSectionProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	progress, err := h.service.GetSectionProgress(r.Context(), userID, chi.URLParam(r, "identifier"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	lessons := make([]lessonProgressResponse, len(progress.LessonProgress))
	for i, lp := range progress.LessonProgress {
		lessons[i] = lessonProgressResponse{LessonID: lp.LessonID, Title: lp.Title, IsCompleted: lp.IsCompleted}
	}
	writeJSON(w, http.StatusOK, sectionProgressResponse{
		SectionID:        progress.SectionID,
		TotalLessons:     progress.TotalLessons,
		CompletedLessons: progress.CompletedLessons,
		LessonProgress:   lessons,
	})
}

// GetPathProgress は学習パス全体とセクションごとの完了率を返す。
// GET /paths/{identifier}/progress
func (h *ProgressHandler) GetPathProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	progress, err := h.service.GetPathProgress(r.Context(), userID, chi.URLParam(r, "identifier"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	sections := make([]sectionSummaryResponse, len(progress.SectionProgress))
	for i, sp := range progress.SectionProgress {
		sections[i] = sectionSummaryResponse{
			SectionID:  sp.SectionID,
			Title:      sp.Title,
			Completed:  sp.Completed,
			Total:      sp.Total,
			Percentage: sp.Percentage,
		}
	}
	writeJSON(w, http.StatusOK, pathProgressResponse{
		Completed:       progress.Completed,
		Total:           progress.Total,
		Percentage:      progress.Percentage,
		SectionProgress: sections,
	})
}

// MarkLessonCompleted はレッスンを完了済みにする。既に完了済みでも成功する。
// POST /lessons/{lessonId}/complete
func (h *ProgressHandler) MarkLessonCompleted(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	completion, err := h.service.MarkLessonCompleted(r.Context(), chi.URLParam(r, "lessonId"), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		LessonID:    completion.LessonID,
		Completed:   true,
		CompletedAt: completion.CompletedAt,
	})
}

// IsLessonCompleted はレッスンの完了状態を返す。
// GET /lessons/{lessonId}/completion
func (h *ProgressHandler) IsLessonCompleted(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	lessonID := chi.URLParam(r, "lessonId")
	completed, err := h.service.IsLessonCompleted(r.Context(), userID, lessonID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completionStatusResponse{LessonID: lessonID, Completed: completed})
}

// GetUserProgress はユーザーの完了済みレッスンIDの集合を返す。
// GET /progress
func (h *ProgressHandler) GetUserProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	progress, err := h.service.GetUserProgress(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
