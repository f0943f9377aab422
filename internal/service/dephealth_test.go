// dephealth_test.go — unit-тесты разбора JWKS URL для health check.
package service

import "testing"

func TestJWKSHealthPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "путь realm OIDC-провайдера",
			input: "https://auth.gcm.local/realms/sentinela/protocol/openid-connect/certs",
			want:  "/realms/sentinela/protocol/openid-connect/certs",
		},
		{
			name:  "well-known с портом",
			input: "http://localhost:9999/.well-known/jwks.json",
			want:  "/.well-known/jwks.json",
		},
		{
			name:  "без path",
			input: "https://auth.gcm.local",
			want:  "/",
		},
		{
			name:    "пустой URL",
			input:   "",
			wantErr: true,
		},
		{
			name:    "без схемы",
			input:   "auth.gcm.local/certs",
			wantErr: true,
		},
		{
			name:    "неподдерживаемая схема",
			input:   "ftp://auth.gcm.local/certs",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := jwksHealthPath(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("jwksHealthPath(%q) — ожидалась ошибка, получено %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("jwksHealthPath(%q) — неожиданная ошибка: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("jwksHealthPath(%q) = %q, ожидалось %q", tt.input, got, tt.want)
			}
		})
	}
}
