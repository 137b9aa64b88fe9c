package web

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/justestif/song-roulette/internal/catalog"
)

// Templates holds one parsed template set per page. Each set contains the
// page plus every layout and partial, and renders through "base".
type Templates struct {
	pages map[string]*template.Template
	funcs template.FuncMap
}

// NewTemplates parses layouts/, partials/ and pages/ from templatesFS.
func NewTemplates(templatesFS fs.FS) (*Templates, error) {
	t := &Templates{
		pages: make(map[string]*template.Template),
		funcs: defaultFuncs(),
	}
	if err := t.load(templatesFS); err != nil {
		return nil, err
	}
	return t, nil
}

// Render writes the named page wrapped in the base layout.
func (t *Templates) Render(w io.Writer, page string, data any) error {
	tmpl, ok := t.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}

func (t *Templates) load(templatesFS fs.FS) error {
	var shared []string
	for _, dir := range []string{"layouts", "partials"} {
		matches, err := fs.Glob(templatesFS, dir+"/*.html")
		if err != nil {
			return fmt.Errorf("globbing %s: %w", dir, err)
		}
		shared = append(shared, matches...)
	}

	pages, err := fs.Glob(templatesFS, "pages/*.html")
	if err != nil {
		return fmt.Errorf("globbing pages: %w", err)
	}

	for _, page := range pages {
		name := strings.TrimSuffix(path.Base(page), ".html")
		tmpl, err := template.New(name).Funcs(t.funcs).ParseFS(templatesFS, append([]string{page}, shared...)...)
		if err != nil {
			return fmt.Errorf("parsing page %s: %w", name, err)
		}
		t.pages[name] = tmpl
	}
	return nil
}

// defaultFuncs returns the default template functions.
func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		// joinArtists formats an artist list as "A, B & C".
		"joinArtists": func(artists []string) string {
			switch len(artists) {
			case 0:
				return ""
			case 1:
				return artists[0]
			}
			return strings.Join(artists[:len(artists)-1], ", ") + " & " + artists[len(artists)-1]
		},

		// phaseLabel is the human name of a load phase.
		"phaseLabel": func(p catalog.Phase) string {
			switch p {
			case catalog.PhaseRunning:
				return "Loading your playlists"
			case catalog.PhaseDone:
				return "Ready"
			case catalog.PhaseFailed:
				return "Load failed"
			}
			return "Not started"
		},
	}
}

// PageData is embedded in every page's data.
type PageData struct {
	Title       string
	User        *UserData
	Flash       *FlashMessage
	CurrentPath string
}

// UserData identifies the signed-in Spotify user.
type UserData struct {
	ID   string
	Name string
}

// FlashMessage is a one-shot notice shown above the page content.
type FlashMessage struct {
	Type    string // info or error
	Message string
}

// notices maps the ?notice= query value set by redirects to a flash.
var notices = map[string]FlashMessage{
	"signed_out":      {Type: "info", Message: "You have been signed out."},
	"session_expired": {Type: "error", Message: "Your session expired. Sign in again to keep rolling."},
}

// HomePageData feeds pages/home.html.
type HomePageData struct {
	PageData
	Authenticated bool
	Status        catalog.Status
}

// LoadingPageData feeds pages/loading.html.
type LoadingPageData struct {
	PageData
	Status catalog.Status
}

// RoomPageData feeds pages/room.html.
type RoomPageData struct {
	PageData
	RoomCode    string
	TracksOwned int
}
