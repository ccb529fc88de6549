package api

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
)

//go:embed templates/*
var templateFS embed.FS

func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"num": func(f float64) string { return fmt.Sprintf("%.2f", f) },
		"optnum": func(f *float64) string {
			if f == nil {
				return "-"
			}
			return fmt.Sprintf("%.2f", *f)
		},
		"optstr": func(s *string) string {
			if s == nil {
				return "-"
			}
			return *s
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}

type indexData struct {
	Run        *runView
	Benchmarks []benchmarkView
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var data indexData
	id, err := s.store.LatestRunID()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if id > 0 {
		run, err := s.store.GetBacktestRun(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if run != nil {
			v := newRunView(*run)
			data.Run = &v
		}
		if data.Benchmarks, err = s.benchmarkViews(id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("api: render index: %v", err)
	}
}
