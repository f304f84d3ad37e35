package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetAdminIDFromContext(r.Context())
		if !ok {
			t.Fatalf("admin id not in context")
		}
		if id != 42 {
			t.Fatalf("admin id from context = %d, want 42", id)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/donations", nil)

	m.SetAuthCookie(w, 42)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/donations", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_EmptySecretUsesRandomKey(t *testing.T) {
	m1 := NewAuthMiddleware("")
	m2 := NewAuthMiddleware("")

	w := httptest.NewRecorder()
	m1.SetAuthCookie(w, 42)
	cookie := w.Result().Cookies()[0]

	r := httptest.NewRequest(http.MethodGet, "/api/donations", nil)
	r.AddCookie(cookie)

	ownRec := httptest.NewRecorder()
	m1.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(ownRec, r)
	if ownRec.Result().StatusCode != http.StatusOK {
		t.Fatalf("issuing instance rejected its own cookie: %d", ownRec.Result().StatusCode)
	}

	// Другой экземпляр с пустым секретом обязан получить другой ключ:
	// общий предсказуемый ключ сделал бы подпись сессии бесполезной.
	otherRec := httptest.NewRecorder()
	m2.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("cookie signed by another instance must not validate")
	})).ServeHTTP(otherRec, r)
	if otherRec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", otherRec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_TamperedCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, 42)
	cookie := w.Result().Cookies()[0]
	cookie.Value = "99" + cookie.Value[2:]

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called for tampered cookie")
	})

	r := httptest.NewRequest(http.MethodGet, "/api/donations", nil)
	r.AddCookie(cookie)

	rec := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rec, r)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}
