package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   string
	}{
		{"validation", func(w http.ResponseWriter) { ValidationError(w, "x") }, http.StatusBadRequest, CodeValidationError},
		{"unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "x") }, http.StatusUnauthorized, CodeUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { Forbidden(w, "x") }, http.StatusForbidden, CodeForbidden},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound, CodeNotFound},
		{"save failed", func(w http.ResponseWriter) { SaveFailed(w, "x") }, http.StatusBadGateway, CodeSaveFailed},
		{"loading", func(w http.ResponseWriter) { Loading(w, "x") }, http.StatusServiceUnavailable, CodeLoading},
		{"internal", func(w http.ResponseWriter) { InternalError(w, "x") }, http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидали %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if body.Error.Code != tt.wantCode || body.Error.Message != "x" {
				t.Errorf("тело = %+v, ожидали код %s", body, tt.wantCode)
			}
		})
	}
}
