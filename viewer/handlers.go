package viewer

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gazobot/gazobot/gazodb"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo/v4"
)

const timeLayout = "2006-01-02 15:04:05"

type imageView struct {
	ID        uint
	Filename  string
	SourceURI string
	Ordinal   int
	CreatedAt string
	Moderated bool
	Approved  bool
	Reason    string
	DecidedAt string
}

func newImageView(img gazodb.Image, dec *gazodb.ModerationDecision) imageView {
	v := imageView{
		ID:        img.ID,
		Filename:  img.Filename,
		SourceURI: img.SourceURI,
		Ordinal:   img.Ordinal,
		CreatedAt: img.CreatedAt.Local().Format(timeLayout),
	}
	if dec != nil {
		v.Moderated = true
		v.Approved = dec.Approved
		v.DecidedAt = dec.DecidedAt.Local().Format(timeLayout)
		if dec.Reason != nil {
			v.Reason = *dec.Reason
		}
	}
	return v
}

// e.GET("/", srv.WebHome)
func (srv *Server) WebHome(c echo.Context) error {
	ctx := c.Request().Context()
	info := pongo2.Context{}

	all, err := srv.ds.Images.ListAll(ctx)
	if err != nil {
		return err
	}
	var pending, approved, rejected int
	for _, e := range all {
		switch {
		case !e.Moderated():
			pending++
		case e.Decision.Approved:
			approved++
		default:
			rejected++
		}
	}
	history, err := srv.ds.History.All(ctx)
	if err != nil {
		return err
	}

	info["total"] = len(all)
	info["pending"] = pending
	info["approved"] = approved
	info["rejected"] = rejected
	info["posted"] = len(history)
	return c.Render(http.StatusOK, "home.html", info)
}

// e.GET("/images/unchecked", srv.WebUnchecked)
func (srv *Server) WebUnchecked(c echo.Context) error {
	imgs, err := srv.ds.Images.ListUnmoderated(c.Request().Context())
	if err != nil {
		return err
	}
	views := make([]imageView, 0, len(imgs))
	for _, img := range imgs {
		views = append(views, newImageView(img, nil))
	}
	return c.Render(http.StatusOK, "images.html", pongo2.Context{
		"title":  "Unchecked images",
		"images": views,
	})
}

// e.GET("/images/all", srv.WebAll)
func (srv *Server) WebAll(c echo.Context) error {
	all, err := srv.ds.Images.ListAll(c.Request().Context())
	if err != nil {
		return err
	}
	views := make([]imageView, 0, len(all))
	for _, e := range all {
		views = append(views, newImageView(e.Image, e.Decision))
	}
	return c.Render(http.StatusOK, "images.html", pongo2.Context{
		"title":  "All images",
		"images": views,
	})
}

type historyView struct {
	ImageID  uint
	Filename string
	PostedAt string
}

// e.GET("/history", srv.WebHistory)
func (srv *Server) WebHistory(c echo.Context) error {
	ctx := c.Request().Context()
	entries, err := srv.ds.History.All(ctx)
	if err != nil {
		return err
	}
	all, err := srv.ds.Images.ListAll(ctx)
	if err != nil {
		return err
	}
	filenames := make(map[uint]string, len(all))
	for _, e := range all {
		filenames[e.Image.ID] = e.Image.Filename
	}

	views := make([]historyView, 0, len(entries))
	for _, h := range entries {
		views = append(views, historyView{
			ImageID:  h.ImageID,
			Filename: filenames[h.ImageID],
			PostedAt: h.PostedAt.Local().Format(timeLayout),
		})
	}
	return c.Render(http.StatusOK, "history.html", pongo2.Context{"entries": views})
}

// e.GET("/blobs/:filename", srv.HandleBlob)
func (srv *Server) HandleBlob(c echo.Context) error {
	name := c.Param("filename")
	if name == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no such image")
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=86400, immutable")
	return c.File(srv.ds.Images.Blobs().Path(name))
}

// e.POST("/register", srv.HandleRegister)
func (srv *Server) HandleRegister(c echo.Context) error {
	imageID, err := strconv.ParseUint(c.FormValue("image_id"), 10, strconv.IntSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "image_id must be a positive integer")
	}
	ok, err := strconv.ParseBool(c.FormValue("ok"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "ok must be true or false")
	}
	reason := c.FormValue("reason")

	err = srv.ds.Moderation.Decide(c.Request().Context(), uint(imageID), ok, reason, time.Time{})
	switch {
	case errors.Is(err, gazodb.ErrInvalidReason):
		return echo.NewHTTPError(http.StatusBadRequest, "a rejection needs a reason")
	case errors.Is(err, gazodb.ErrImageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no such image")
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// e.GET("/register/all_ok", srv.HandleRegisterAllOK)
func (srv *Server) HandleRegisterAllOK(c echo.Context) error {
	ids, err := srv.ds.Moderation.ApproveAllPending(c.Request().Context())
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []uint{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "registered_ids": ids})
}
