package keyspace

import (
	"testing"
)

func TestNewScope(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		want    string
		wantErr bool
	}{
		{
			name:   "trailing separator preserved",
			prefix: "user-1/",
			want:   "user-1/",
		},
		{
			name:   "missing separator appended",
			prefix: "user-1",
			want:   "user-1/",
		},
		{
			name:   "nested prefix",
			prefix: "tenants/acme/user-7/",
			want:   "tenants/acme/user-7/",
		},
		{
			name:    "empty prefix rejected",
			prefix:  "",
			wantErr: true,
		},
		{
			name:    "empty component rejected",
			prefix:  "user-1//docs",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewScope(tt.prefix)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewScope(%q) expected error, got %q", tt.prefix, got.Prefix())
				}

				return
			}

			if err != nil {
				t.Fatalf("NewScope(%q) error: %v", tt.prefix, err)
			}

			if got.Prefix() != tt.want {
				t.Errorf("NewScope(%q) = %q, want %q", tt.prefix, got.Prefix(), tt.want)
			}
		})
	}
}

func TestUserScope(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		want    string
		wantErr bool
	}{
		{
			name:   "plain numeric ID",
			userID: "42",
			want:   "user-42/",
		},
		{
			name:   "uuid-style ID",
			userID: "9b2f0c1e-77aa-4a10-8df3-0d6f2f9b8a11",
			want:   "user-9b2f0c1e-77aa-4a10-8df3-0d6f2f9b8a11/",
		},
		{
			name:    "empty ID rejected",
			userID:  "",
			wantErr: true,
		},
		{
			name:    "separator in ID rejected",
			userID:  "a/b",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserScope(tt.userID)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("UserScope(%q) expected error, got %q", tt.userID, got.Prefix())
				}

				return
			}

			if err != nil {
				t.Fatalf("UserScope(%q) error: %v", tt.userID, err)
			}

			if got.Prefix() != tt.want {
				t.Errorf("UserScope(%q) = %q, want %q", tt.userID, got.Prefix(), tt.want)
			}
		})
	}
}

func TestScope_Contains(t *testing.T) {
	scope, err := NewScope("user-1/")
	if err != nil {
		t.Fatalf("NewScope error: %v", err)
	}

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"key under scope", "user-1/docs/a.pdf", true},
		{"placeholder under scope", "user-1/docs/.folder", true},
		{"other user", "user-2/docs/a.pdf", false},
		{"prefix of the prefix", "user-1", false},
		{"sibling scope with shared leading bytes", "user-10/a.pdf", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scope.Contains(tt.key); got != tt.want {
				t.Errorf("Contains(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestScope_Zero(t *testing.T) {
	var zero Scope

	if !zero.IsZero() {
		t.Error("Scope{} must be zero")
	}

	if zero.Contains("user-1/a") {
		t.Error("zero scope must contain nothing")
	}

	if _, err := zero.FileKey(nil, "a.pdf"); err == nil {
		t.Error("FileKey on zero scope must error")
	}

	if _, err := zero.PlaceholderKey([]string{"a"}); err == nil {
		t.Error("PlaceholderKey on zero scope must error")
	}

	if _, err := zero.ParseKey("user-1/a"); err == nil {
		t.Error("ParseKey on zero scope must error")
	}
}
