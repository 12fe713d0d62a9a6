package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestObjectName(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if got := ObjectName("acme", "abc", ".pdf", at); got != "acme/2024/03/abc.pdf" {
		t.Fatalf("ObjectName = %q", got)
	}
	if got := ObjectName("", "abc", ".png", at); got != "default/2024/03/abc.png" {
		t.Fatalf("ObjectName = %q", got)
	}
}

func TestContentTypeAndExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want string
		ext  string
	}{
		{"pdf", []byte("%PDF-1.4\n..."), "application/pdf", ".pdf"},
		{"png", []byte("\x89PNG\r\n\x1a\n0000"), "image/png", ".png"},
		{"jpeg", []byte("\xff\xd8\xff\xe0000000"), "image/jpeg", ".jpg"},
		{"tiff", []byte("II*\x00rest"), "image/tiff", ".tiff"},
		{"text", []byte("hello"), "text/plain", ".bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ct := ContentType(tt.data)
			if ct != tt.want {
				t.Fatalf("ContentType = %q, want %q", ct, tt.want)
			}
			if ext := GetFileExtension(ct); ext != tt.ext {
				t.Fatalf("GetFileExtension = %q, want %q", ext, tt.ext)
			}
		})
	}
}

func TestTenantObject(t *testing.T) {
	t.Parallel()

	s := &DocumentStore{bucket: "docs"}
	tests := []struct {
		tenant string
		path   string
		want   string
	}{
		{"acme", "docs/acme/2024/03/abc.pdf", "acme/2024/03/abc.pdf"},
		{"", "docs/default/2024/03/abc.pdf", "default/2024/03/abc.pdf"},
		{"acme", "docs/other/2024/03/abc.pdf", ""},
		{"acme", "docs/acme/../other/abc.pdf", ""},
		{"acme", "elsewhere/acme/2024/03/abc.pdf", ""},
		{"acme", "docs/acmecorp/2024/03/abc.pdf", ""},
	}
	for _, tt := range tests {
		got, err := s.tenantObject(tt.tenant, tt.path)
		if tt.want == "" {
			if !errors.Is(err, ErrForeignObject) {
				t.Fatalf("tenantObject(%q, %q) = %q, %v", tt.tenant, tt.path, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("tenantObject(%q, %q) = %q, %v", tt.tenant, tt.path, got, err)
		}
	}

	// foreign paths are refused before any call to the server
	if err := s.Delete(context.Background(), "acme", "docs/other/x.pdf"); !errors.Is(err, ErrForeignObject) {
		t.Fatalf("Delete = %v", err)
	}
}
