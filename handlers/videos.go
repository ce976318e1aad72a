package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"fknsrs.biz/p/catalogfill/internal/catalog"
	"fknsrs.biz/p/catalogfill/internal/httputil"
	"fknsrs.biz/p/catalogfill/internal/sqltypes"
	"fknsrs.biz/p/catalogfill/models"
)

type videoView struct {
	ID          int      `json:"id"`
	ExternalID  string   `json:"tera_id"`
	Slug        *string  `json:"slug"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	PosterURL   *string  `json:"poster"`
	Category    *string  `json:"category"`
	Tags        []string `json:"tags"`
	Duration    *string  `json:"duration"`
	Views       int      `json:"views"`
	Likes       int      `json:"likes"`
	Published   bool     `json:"published"`
	PosterValid bool     `json:"poster_valid"`
	UpdatedAt   *string  `json:"updated_at"`
}

func makeVideoView(v *models.Video, posterHosts []string) videoView {
	view := videoView{
		ID:          v.ID,
		ExternalID:  v.ExternalID,
		Slug:        v.Slug,
		Title:       v.Title,
		Description: v.Description,
		PosterURL:   v.PosterURL,
		Category:    v.Category,
		Tags:        append([]string{}, v.Tags...),
		Duration:    v.Duration,
		Views:       v.Views,
		Likes:       v.Likes,
		Published:   v.Published,
		PosterValid: catalog.PosterValid(v.PosterURL, posterHosts),
	}

	if v.UpdatedAt != nil {
		s := sqltypes.FormatTime(*v.UpdatedAt)
		view.UpdatedAt = &s
	}

	return view
}

func Video(rw http.ResponseWriter, r *http.Request) {
	s := store(r)

	video, err := s.FindVideo(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	httputil.WriteJSON(rw, r, http.StatusOK, makeVideoView(video, s.PosterHosts()))
}
