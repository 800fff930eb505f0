// Package webui embeds a single-page playground for the generation API.
package webui

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v5"
)

//go:embed static/*
var staticFS embed.FS

// StaticFS returns an http.FileSystem for the embedded static files.
func StaticFS() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// Register serves the playground at / and its assets under /ui/.
func Register(e *echo.Echo) {
	files := http.FileServer(StaticFS())
	serve := func(c *echo.Context) error {
		req := c.Request()
		if p := req.URL.Path; p != "/" {
			req.URL.Path = p[len("/ui"):]
		}
		files.ServeHTTP(c.Response(), req)
		return nil
	}
	e.GET("/", serve)
	e.GET("/ui/*", serve)
}
