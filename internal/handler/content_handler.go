package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/learnpath/internal/middleware"
	"github.com/hitoshi/learnpath/internal/model"
)

// maxContentBodyBytes はコンテンツ更新リクエストボディの上限。
const maxContentBodyBytes = 1 << 20

// ContentServiceInterface はコンテンツハンドラーが必要とするサービスインターフェース。
type ContentServiceInterface interface {
	GetRenderedContent(ctx context.Context, lessonID string) (*model.RenderedContent, error)
	GetRawContent(ctx context.Context, lessonID string) (*model.RawContent, error)
	UpdateLessonContent(ctx context.Context, lessonID string, content model.Content, userID, changeDescription string) (*model.Lesson, error)
	ListRevisions(ctx context.Context, lessonID string) ([]model.ContentRevision, error)
}

// ContentHandler はレッスンコンテンツのHTTPハンドラー。
type ContentHandler struct {
	service ContentServiceInterface
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(service ContentServiceInterface) *ContentHandler {
	return &ContentHandler{service: service}
}

// updateContentRequest はコンテンツ更新リクエストのボディ。
// content は文字列、または raw と format を持つオブジェクト。
type updateContentRequest struct {
	Content           json.RawMessage `json:"content"`
	ChangeDescription string          `json:"changeDescription"`
}

// lessonContentResponse はコンテンツ更新後のレスポンス。
type lessonContentResponse struct {
	LessonID        string          `json:"lessonId"`
	Content         json.RawMessage `json:"content"`
	Format          model.Format    `json:"format"`
	RenderedContent string          `json:"renderedContent"`
	LastRenderedAt  *time.Time      `json:"lastRenderedAt,omitempty"`
}

type revisionResponse struct {
	ID                string          `json:"id"`
	LessonID          string          `json:"lessonId"`
	Version           int             `json:"version"`
	UpdatedBy         string          `json:"updatedBy"`
	ChangeDescription string          `json:"changeDescription"`
	Content           json.RawMessage `json:"content"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// GetRenderedContent はレンダリング済みコンテンツを返す。
// GET /lessons/{lessonId}/content
func (h *ContentHandler) GetRenderedContent(w http.ResponseWriter, r *http.Request) {
	rendered, err := h.service.GetRenderedContent(r.Context(), chi.URLParam(r, "lessonId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rendered)
}

// GetRawContent は保存されている未加工のコンテンツを返す。
// GET /lessons/{lessonId}/content/raw
func (h *ContentHandler) GetRawContent(w http.ResponseWriter, r *http.Request) {
	raw, err := h.service.GetRawContent(r.Context(), chi.URLParam(r, "lessonId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

// UpdateLessonContent はレッスンのコンテンツを更新する。
// PUT /lessons/{lessonId}/content
func (h *ContentHandler) UpdateLessonContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateContentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContentBodyBytes)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	content, err := model.DecodeContentInput(req.Content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	lesson, err := h.service.UpdateLessonContent(r.Context(), chi.URLParam(r, "lessonId"), content, userID, req.ChangeDescription)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp, err := toLessonContentResponse(lesson)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRevisions はコンテンツの更新履歴を新しい順に返す。
// GET /lessons/{lessonId}/content/revisions
func (h *ContentHandler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	revs, err := h.service.ListRevisions(r.Context(), chi.URLParam(r, "lessonId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]revisionResponse, 0, len(revs))
	for _, rev := range revs {
		content, err := model.MarshalContent(rev.Content)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		resp = append(resp, revisionResponse{
			ID:                rev.ID,
			LessonID:          rev.LessonID,
			Version:           rev.Version,
			UpdatedBy:         rev.UpdatedBy,
			ChangeDescription: rev.ChangeDescription,
			Content:           content,
			CreatedAt:         rev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func toLessonContentResponse(lesson *model.Lesson) (*lessonContentResponse, error) {
	content, err := model.MarshalContent(lesson.Content)
	if err != nil {
		return nil, err
	}
	resp := &lessonContentResponse{
		LessonID:       lesson.ID,
		Content:        content,
		Format:         lesson.Content.EffectiveFormat(),
		LastRenderedAt: lesson.LastRenderedAt,
	}
	if lesson.RenderedContent != nil {
		resp.RenderedContent = *lesson.RenderedContent
	}
	return resp, nil
}
