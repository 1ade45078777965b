package viewer

import (
	"embed"
	"fmt"
	"io"
	"io/fs"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo/v4"
)

//go:embed templates/*
var TemplateFS embed.FS

// Renderer executes pongo2 templates for echo. In debug mode templates are read from disk on
// every request.
type Renderer struct {
	set *pongo2.TemplateSet
}

func NewRenderer(dir string, debug bool) (*Renderer, error) {
	var loader pongo2.TemplateLoader
	if debug {
		l, err := pongo2.NewLocalFileSystemLoader(dir)
		if err != nil {
			return nil, err
		}
		loader = l
	} else {
		sub, err := fs.Sub(TemplateFS, "templates")
		if err != nil {
			return nil, err
		}
		loader = pongo2.NewFSLoader(sub)
	}
	set := pongo2.NewSet("viewer", loader)
	set.Debug = debug
	return &Renderer{set: set}, nil
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tpl, err := r.set.FromCache(name)
	if err != nil {
		return fmt.Errorf("loading template %s: %w", name, err)
	}
	ctx, ok := data.(pongo2.Context)
	if !ok {
		ctx = pongo2.Context{"data": data}
	}
	ctx["path"] = c.Request().URL.Path
	return tpl.ExecuteWriter(ctx, w)
}
