package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/voice-tutor/internal/httpapi/middleware"
)

const loginForm = `<!doctype html>
<html><head><meta charset="utf-8"><title>Login</title></head>
<body>
<form method="post" action="/login">
<input name="email" type="email" placeholder="Email" required>
<input name="password" type="password" placeholder="Password" required>
<button type="submit">Log in</button>
</form>
</body></html>`

const registerForm = `<!doctype html>
<html><head><meta charset="utf-8"><title>Register</title></head>
<body>
<form method="post" action="/register">
<input name="email" type="email" placeholder="Email" required>
<input name="password" type="password" placeholder="Password" required>
<button type="submit">Create account</button>
</form>
</body></html>`

const indexFallback = `<!doctype html>
<html><head><meta charset="utf-8"><title>Voice Tutor</title></head>
<body><p>Voice Tutor is running. Set STATIC_DIR to serve the client.</p></body></html>`

func (h *Handler) LoginPage(c *gin.Context) {
	h.page(c, "login.html", loginForm)
}

func (h *Handler) RegisterPage(c *gin.Context) {
	if !h.Cfg.AllowRegister {
		c.String(http.StatusNotFound, "404 page not found")
		return
	}
	h.page(c, "register.html", registerForm)
}

// Fallback serves files under StaticDir to anyone. Other GET paths render
// the single page client, which needs a login.
func (h *Handler) Fallback(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.String(http.StatusNotFound, "404 page not found")
		return
	}
	p := path.Clean("/" + c.Request.URL.Path)
	if p != "/" && p != "/index.html" {
		if f, ok := h.staticFile(p); ok {
			c.File(f)
			return
		}
	}

	if _, ok := middleware.IdentityFrom(c); !ok {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	h.page(c, "index.html", indexFallback)
}

func (h *Handler) page(c *gin.Context, name, fallback string) {
	if f, ok := h.staticFile("/" + name); ok {
		c.File(f)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fallback))
}

// staticFile maps a cleaned URL path into StaticDir. Directories do not count.
func (h *Handler) staticFile(p string) (string, bool) {
	if h.Cfg.StaticDir == "" {
		return "", false
	}
	f := filepath.Join(h.Cfg.StaticDir, filepath.FromSlash(p))
	st, err := os.Stat(f)
	if err != nil || st.IsDir() {
		return "", false
	}
	return f, true
}
