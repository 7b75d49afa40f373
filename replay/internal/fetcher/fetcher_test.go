package fetcher

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

const article = `<!DOCTYPE html><html><head><title>Test</title>
<link rel="stylesheet" href="/site.css"><link rel="stylesheet" href="/missing.css"></head>
<body><main><h1>Article Title</h1>
<p>Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur.</p>
</main></body></html>`

func server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(article))
	})
	mux.HandleFunc("/site.css", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`body { background: url(bg.png) }`))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := server(t)
	res, err := New().Fetch(t.Context(), srv.URL+"/page")
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != 200 || res.ETag != `"v1"` {
		t.Errorf("response: got %d %q", res.StatusCode, res.ETag)
	}
	if !res.Static {
		t.Error("article page should be static")
	}
	if res.Sheets != 1 {
		t.Fatalf("sheets: got %d, want 1", res.Sheets)
	}
	links := res.Doc.Find(func(n *dom.Node) bool { return n.Name == "link" })
	if links[0].Sheet == nil || !strings.Contains(links[0].Sheet.CSSText(), "background") {
		t.Errorf("linked sheet not loaded: %+v", links[0].Sheet)
	}
	if links[1].Sheet != nil {
		t.Error("failed sheet should stay empty")
	}
}

func TestFetch_WithoutStyleSheets(t *testing.T) {
	srv := server(t)
	res, err := New(WithoutStyleSheets()).Fetch(t.Context(), srv.URL+"/page")
	if err != nil {
		t.Fatal(err)
	}
	if res.Sheets != 0 {
		t.Errorf("sheets: got %d, want 0", res.Sheets)
	}
}

func TestFetch_ErrorStatus(t *testing.T) {
	srv := server(t)
	if _, err := New().Fetch(t.Context(), srv.URL+"/gone"); err == nil {
		t.Error("expected error for 410")
	}
}

func TestHead(t *testing.T) {
	srv := server(t)
	etag, _, err := New().Head(t.Context(), srv.URL+"/page")
	if err != nil || etag != `"v1"` {
		t.Errorf("head: got %q, %v", etag, err)
	}
}

func parse(t *testing.T, s string) *dom.Document {
	t.Helper()
	d, err := dom.ParseString(s, "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestIsStatic(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"article", article, true},
		{"spa shell", `<html><body><div id="root"></div><script src="/main.js"></script></body></html>`, false},
		{"too short", `<html><body>hi</body></html>`, false},
		{"script text ignored", `<html><body><script>` + strings.Repeat("x", 500) + `</script></body></html>`, false},
		{"rendered mount point", `<html><body><div id="app"><p>` + strings.Repeat("word ", 60) + `</p></div></body></html>`, true},
	}
	for _, tt := range tests {
		if got := IsStatic(parse(t, tt.html)); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
