package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/learnpath/internal/model"
)

// CurriculumServiceInterface はカリキュラムハンドラーが必要とするサービスインターフェース。
// identifier はIDまたはスラッグ。
type CurriculumServiceInterface interface {
	GetPaths(ctx context.Context) ([]model.Path, error)
	GetPath(ctx context.Context, identifier string) (*model.Path, error)
	GetSectionsByPath(ctx context.Context, pathIdentifier string) ([]model.Section, error)
	GetSection(ctx context.Context, identifier, pathID string) (*model.Section, error)
	GetLessonsBySection(ctx context.Context, sectionID string) ([]model.Lesson, error)
	GetLesson(ctx context.Context, identifier, sectionID string) (*model.Lesson, error)
}

// RawContentGetter は未加工コンテンツの取得インターフェース。
type RawContentGetter interface {
	GetRawContent(ctx context.Context, lessonID string) (*model.RawContent, error)
}

// CurriculumHandler は学習パス・セクション・レッスンの参照用HTTPハンドラー。
type CurriculumHandler struct {
	service CurriculumServiceInterface
	raw     RawContentGetter
}

// NewCurriculumHandler はCurriculumHandlerを生成する。
func NewCurriculumHandler(service CurriculumServiceInterface, raw RawContentGetter) *CurriculumHandler {
	return &CurriculumHandler{service: service, raw: raw}
}

type pathResponse struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Slug           string    `json:"slug"`
	Description    string    `json:"description"`
	ImageURL       *string   `json:"imageUrl,omitempty"`
	EstimatedHours int       `json:"estimatedHours"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// pathDetailResponse は学習パス詳細のレスポンス。セクション一覧を含む。
type pathDetailResponse struct {
	pathResponse
	Sections []sectionResponse `json:"sections"`
}

type sectionResponse struct {
	ID             string `json:"id"`
	PathID         string `json:"pathId"`
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	Description    string `json:"description"`
	Order          int    `json:"order"`
	EstimatedHours int    `json:"estimatedHours"`
}

// lessonResponse はレッスンのレスポンス。
// raw=true の場合のみ content と contentFormat を含む。
type lessonResponse struct {
	ID               string          `json:"id"`
	SectionID        string          `json:"sectionId"`
	Title            string          `json:"title"`
	Slug             string          `json:"slug"`
	Order            int             `json:"order"`
	EstimatedMinutes int             `json:"estimatedMinutes"`
	Content          json.RawMessage `json:"content,omitempty"`
	ContentFormat    model.Format    `json:"contentFormat,omitempty"`
}

// GetPaths は学習パス一覧を返す。
// GET /paths
func (h *CurriculumHandler) GetPaths(w http.ResponseWriter, r *http.Request) {
	paths, err := h.service.GetPaths(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]pathResponse, len(paths))
	for i := range paths {
		resp[i] = toPathResponse(&paths[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPath は学習パス詳細をセクション一覧付きで返す。
// GET /paths/{identifier}
func (h *CurriculumHandler) GetPath(w http.ResponseWriter, r *http.Request) {
	path, err := h.service.GetPath(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	sections, err := h.service.GetSectionsByPath(r.Context(), path.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pathDetailResponse{
		pathResponse: toPathResponse(path),
		Sections:     toSectionResponses(sections),
	})
}

// GetSectionsByPath は学習パス内のセクション一覧を返す。
// GET /paths/{identifier}/sections
func (h *CurriculumHandler) GetSectionsByPath(w http.ResponseWriter, r *http.Request) {
	sections, err := h.service.GetSectionsByPath(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSectionResponses(sections))
}

// GetSection はセクションを返す。pathId クエリで学習パスを限定できる。
// GET /sections/{identifier}
func (h *CurriculumHandler) GetSection(w http.ResponseWriter, r *http.Request) {
	section, err := h.service.GetSection(r.Context(), chi.URLParam(r, "identifier"), r.URL.Query().Get("pathId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSectionResponse(section))
}

// GetLessonsBySection はセクション内のレッスン一覧を返す。
// GET /sections/{identifier}/lessons
func (h *CurriculumHandler) GetLessonsBySection(w http.ResponseWriter, r *http.Request) {
	section, err := h.service.GetSection(r.Context(), chi.URLParam(r, "identifier"), "")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	lessons, err := h.service.GetLessonsBySection(r.Context(), section.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]lessonResponse, len(lessons))
	for i := range lessons {
		resp[i] = toLessonResponse(&lessons[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLesson はレッスンを返す。
// raw=true の場合は未加工コンテンツを付与する。取得に失敗した場合は付与せずに返す。
// GET /lessons/{identifier}
func (h *CurriculumHandler) GetLesson(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	lesson, err := h.service.GetLesson(r.Context(), chi.URLParam(r, "identifier"), query.Get("sectionId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := toLessonResponse(lesson)
	if query.Get("raw") == "true" {
		h.attachRawContent(r, &resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CurriculumHandler) attachRawContent(r *http.Request, resp *lessonResponse) {
	raw, err := h.raw.GetRawContent(r.Context(), resp.ID)
	if err == nil {
		var content []byte
		content, err = model.MarshalContent(raw.Content)
		if err == nil {
			resp.Content = content
			resp.ContentFormat = raw.Format
			return
		}
	}
	slog.WarnContext(r.Context(), "raw content unavailable",
		slog.String("lesson_id", resp.ID),
		slog.String("error", err.Error()),
	)
}

func toPathResponse(p *model.Path) pathResponse {
	return pathResponse{
		ID:             p.ID,
		Title:          p.Title,
		Slug:           p.Slug,
		Description:    p.Description,
		ImageURL:       p.ImageURL,
		EstimatedHours: p.EstimatedHours,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func toSectionResponse(s *model.Section) sectionResponse {
	return sectionResponse{
		ID:             s.ID,
		PathID:         s.PathID,
		Title:          s.Title,
		Slug:           s.Slug,
		Description:    s.Description,
		Order:          s.Order,
		EstimatedHours: s.EstimatedHours,
	}
}

func toSectionResponses(sections []model.Section) []sectionResponse {
	resp := make([]sectionResponse, len(sections))
	for i := range sections {
		resp[i] = toSectionResponse(&sections[i])
	}
	return resp
}

func toLessonResponse(l *model.Lesson) lessonResponse {
	return lessonResponse{
		ID:               l.ID,
		SectionID:        l.SectionID,
		Title:            l.Title,
		Slug:             l.Slug,
		Order:            l.Order,
		EstimatedMinutes: l.EstimatedMinutes,
	}
}
