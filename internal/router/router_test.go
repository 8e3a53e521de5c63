package router

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/f4ah6o/siteserve-go/internal/config"
	"github.com/f4ah6o/siteserve-go/internal/resolver"
)

// newTestRouter serves a root holding index.html and style.css. The parent
// directory holds app_config, which must never be reachable.
func newTestRouter(t *testing.T, modify func(*config.Config)) (*Router, string) {
	t.Helper()
	parent := t.TempDir()
	root := filepath.Join(parent, "public")
	files := map[string]string{
		filepath.Join(root, "index.html"):         "<h1>hi</h1>",
		filepath.Join(root, "style.css"):          "body{}",
		filepath.Join(root, "docs", "guide.txt"):  "read me",
		filepath.Join(root, "docs", "my file.md"): "# spaced",
		filepath.Join(root, "home.html"):          "<p>home</p>",
		filepath.Join(parent, "app_config"):       "secret",
	}
	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.Root = root
	if modify != nil {
		modify(&cfg)
	}
	cfg, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	res, err := resolver.New(cfg.Root)
	if err != nil {
		t.Fatalf("resolver.New() error = %v", err)
	}
	return New(cfg, res), root
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestTarget(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "Empty path", path: "", want: "index.html"},
		{name: "Root path", path: "/", want: "index.html"},
		{name: "File", path: "/style.css", want: "style.css"},
		{name: "Nested file", path: "/docs/guide.txt", want: "docs/guide.txt"},
		{name: "Traversal is passed through", path: "/../app_config", want: "../app_config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rt.Target(tt.path); got != tt.want {
				t.Errorf("Target(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestServe(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
		wantBody   string
		wantType   string
	}{
		{name: "Index", method: http.MethodGet, target: "/", wantStatus: http.StatusOK, wantBody: "<h1>hi</h1>", wantType: "text/html"},
		{name: "Index by name", method: http.MethodGet, target: "/index.html", wantStatus: http.StatusOK, wantBody: "<h1>hi</h1>", wantType: "text/html"},
		{name: "Stylesheet", method: http.MethodGet, target: "/style.css", wantStatus: http.StatusOK, wantBody: "body{}", wantType: "text/css"},
		{name: "Nested", method: http.MethodGet, target: "/docs/guide.txt", wantStatus: http.StatusOK, wantBody: "read me", wantType: "text/plain"},
		{name: "Escaped space", method: http.MethodGet, target: "/docs/my%20file.md", wantStatus: http.StatusOK, wantBody: "# spaced"},
		{name: "Query string ignored", method: http.MethodGet, target: "/style.css?v=3", wantStatus: http.StatusOK, wantBody: "body{}", wantType: "text/css"},
		{name: "Missing file", method: http.MethodGet, target: "/missing.txt", wantStatus: http.StatusNotFound, wantBody: "404 Not Found\n"},
		{name: "Directory", method: http.MethodGet, target: "/docs", wantStatus: http.StatusNotFound, wantBody: "404 Not Found\n"},
		{name: "Directory with slash", method: http.MethodGet, target: "/docs/", wantStatus: http.StatusNotFound, wantBody: "404 Not Found\n"},
		{name: "Traversal", method: http.MethodGet, target: "/../app_config", wantStatus: http.StatusNotFound, wantBody: "404 Not Found\n"},
		{name: "Nested traversal", method: http.MethodGet, target: "/docs/../../app_config", wantStatus: http.StatusNotFound, wantBody: "404 Not Found\n"},
		{name: "Encoded traversal", method: http.MethodGet, target: "/%2e%2e/app_config", wantStatus: http.StatusNotFound, wantBody: "404 Not Found\n"},
		{name: "Encoded slash traversal", method: http.MethodGet, target: "/..%2fapp_config", wantStatus: http.StatusNotFound, wantBody: "404 Not Found\n"},
		{name: "POST", method: http.MethodPost, target: "/style.css", wantStatus: http.StatusMethodNotAllowed, wantBody: "405 Method Not Allowed\n"},
		{name: "DELETE on root", method: http.MethodDelete, target: "/", wantStatus: http.StatusMethodNotAllowed, wantBody: "405 Method Not Allowed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(rt, tt.method, tt.target)
			if rec.Code != tt.wantStatus {
				t.Fatalf("%s %s status = %d, want %d", tt.method, tt.target, rec.Code, tt.wantStatus)
			}
			if got := rec.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			if tt.wantType != "" && !strings.HasPrefix(rec.Header().Get("Content-Type"), tt.wantType) {
				t.Errorf("Content-Type = %q, want prefix %q", rec.Header().Get("Content-Type"), tt.wantType)
			}
		})
	}
}

func TestServeHeaders(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	rec := do(rt, http.MethodGet, "/style.css")
	if got := rec.Header().Get("Content-Length"); got != "6" {
		t.Errorf("Content-Length = %q, want %q", got, "6")
	}

	rec = do(rt, http.MethodPut, "/style.css")
	if got := rec.Header().Get("Allow"); got != "GET, HEAD" {
		t.Errorf("Allow = %q, want %q", got, "GET, HEAD")
	}
}

func TestIndexMatchesNamedRequest(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	root := do(rt, http.MethodGet, "/")
	named := do(rt, http.MethodGet, "/index.html")
	if root.Code != named.Code || !bytes.Equal(root.Body.Bytes(), named.Body.Bytes()) {
		t.Errorf("GET / = %d %q, GET /index.html = %d %q", root.Code, root.Body, named.Code, named.Body)
	}
}

func TestCustomIndexFile(t *testing.T) {
	rt, _ := newTestRouter(t, func(c *config.Config) { c.IndexFile = "home.html" })

	rec := do(rt, http.MethodGet, "/")
	if rec.Code != http.StatusOK || rec.Body.String() != "<p>home</p>" {
		t.Errorf("GET / = %d %q, want 200 %q", rec.Code, rec.Body, "<p>home</p>")
	}
}

func TestMissingIndexFile(t *testing.T) {
	rt, root := newTestRouter(t, nil)
	if err := os.Remove(filepath.Join(root, "index.html")); err != nil {
		t.Fatal(err)
	}
	if rec := do(rt, http.MethodGet, "/"); rec.Code != http.StatusNotFound {
		t.Errorf("GET / status = %d, want 404", rec.Code)
	}
}

func TestIdempotent(t *testing.T) {
	rt, _ := newTestRouter(t, nil)

	for _, target := range []string{"/", "/style.css", "/missing.txt", "/../app_config"} {
		first := do(rt, http.MethodGet, target)
		for i := 0; i < 3; i++ {
			again := do(rt, http.MethodGet, target)
			if again.Code != first.Code || !bytes.Equal(again.Body.Bytes(), first.Body.Bytes()) {
				t.Errorf("GET %s changed between requests: %d %q vs %d %q",
					target, first.Code, first.Body, again.Code, again.Body)
			}
		}
	}
}

func TestHead(t *testing.T) {
	rt, _ := newTestRouter(t, nil)
	srv := httptest.NewServer(rt)
	defer srv.Close()

	resp, err := http.Head(srv.URL + "/style.css")
	if err != nil {
		t.Fatalf("HEAD error = %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("HEAD status = %d, want 200", resp.StatusCode)
	}
	if len(body) != 0 {
		t.Errorf("HEAD body = %q, want empty", body)
	}
	if resp.ContentLength != 6 {
		t.Errorf("ContentLength = %d, want 6", resp.ContentLength)
	}
}

func TestTraversalOverTheWire(t *testing.T) {
	rt, _ := newTestRouter(t, nil)
	srv := httptest.NewServer(rt)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/../app_config", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if strings.Contains(string(body), "secret") {
		t.Error("response leaked a file outside the root")
	}
}

func TestReadErrorIs500(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for this user")
	}
	rt, root := newTestRouter(t, nil)
	locked := filepath.Join(root, "locked.txt")
	if err := os.WriteFile(locked, []byte("x"), 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0o644) })

	rec := do(rt, http.MethodGet, "/locked.txt")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := rec.Body.String(); got != "500 Internal Server Error\n" {
		t.Errorf("body = %q", got)
	}
}

func TestSymlinkCycleIs404(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on windows")
	}
	rt, root := newTestRouter(t, nil)
	if err := os.Symlink("loop.txt", filepath.Join(root, "loop.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("b.txt", filepath.Join(root, "a.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("a.txt", filepath.Join(root, "b.txt")); err != nil {
		t.Fatal(err)
	}

	for _, target := range []string{"/loop.txt", "/a.txt", "/loop.txt/x"} {
		rec := do(rt, http.MethodGet, target)
		if rec.Code != http.StatusNotFound || rec.Body.String() != "404 Not Found\n" {
			t.Errorf("GET %s = %d %q, want 404", target, rec.Code, rec.Body)
		}
	}
}
