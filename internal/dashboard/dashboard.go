package dashboard

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

// DefaultRefresh is how often the page polls for new data.
const DefaultRefresh = 2 * time.Second

//go:embed templates/index.html
var content embed.FS

var indexTemplate = template.Must(template.ParseFS(content, "templates/index.html"))

// SignalLister supplies the keys shown on the page.
type SignalLister interface {
	Signals() []string
}

// Options tune the rendered page. Zero values select defaults.
type Options struct {
	Title    string
	DataPath string
	Refresh  time.Duration
}

type pageData struct {
	Title     string
	DataPath  string
	RefreshMS int64
	Signals   []string
}

// Handler returns an http.Handler rendering the dashboard. The signal
// list is read on every request.
func Handler(signals SignalLister, opts Options) http.Handler {
	if opts.Title == "" {
		opts.Title = "PLC Monitor"
	}
	if opts.DataPath == "" {
		opts.DataPath = "/data"
	}
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}

	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		err := indexTemplate.Execute(&buf, pageData{
			Title:     opts.Title,
			DataPath:  opts.DataPath,
			RefreshMS: opts.Refresh.Milliseconds(),
			Signals:   signals.Signals(),
		})
		if err != nil {
			http.Error(w, fmt.Sprintf("rendering dashboard: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes()) //nolint:errcheck // Best-effort write; connection may be closed
	})
}
