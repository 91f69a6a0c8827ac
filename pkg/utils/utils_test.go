package utils

import "testing"

func TestBrowserHeaders(t *testing.T) {
	h := BrowserHeaders("UA/1.0", "zh-TW", "https://example.gov.tw/list", map[string]string{"Accept": "application/pdf"})

	if h.Get("User-Agent") != "UA/1.0" {
		t.Errorf("User-Agent = %q", h.Get("User-Agent"))
	}

	if h.Get("Referer") != "https://example.gov.tw/list" {
		t.Errorf("Referer = %q", h.Get("Referer"))
	}

	if h.Get("Accept") != "application/pdf" {
		t.Errorf("custom Accept should override default, got %q", h.Get("Accept"))
	}

	if BrowserHeaders("UA", "zh-TW", "", nil).Get("Referer") != "" {
		t.Error("empty referer should not be sent")
	}
}

func TestIsValidURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.gov.tw/a.pdf", true},
		{"http://localhost:8080/", true},
		{"/relative/path", false},
		{"ftp://example.com/file", false},
		{"javascript:void(0)", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := IsValidURL(tt.in); got != tt.want {
				t.Errorf("IsValidURL(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.gov.tw/files/%E9%85%92%E9%A7%95.pdf", "酒駕.pdf"},
		{"https://example.gov.tw/files/list.pdf?id=3", "list.pdf"},
		{"https://example.gov.tw/", "document"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := BaseName(tt.in); got != tt.want {
				t.Errorf("BaseName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMediaType(t *testing.T) {
	if got := MediaType("text/HTML; charset=big5"); got != "text/html" {
		t.Errorf("MediaType() = %q", got)
	}
}

func TestStringHelpers(t *testing.T) {
	if got := NormalizeWhitespace("  沙鹿區　中清路  六段 "); got != "沙鹿區 中清路 六段" {
		t.Errorf("NormalizeWhitespace() = %q", got)
	}

	if got := Truncate("石玉山酒駕累犯", 3); got != "石玉山..." {
		t.Errorf("Truncate() = %q", got)
	}

	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}

	if !ContainsAny("酒精濃度超過規定標準", "毒品", "酒精") {
		t.Error("ContainsAny() should match 酒精")
	}

	if got := SafeFileName("a/b:c?.pdf"); got != "a_b_c_.pdf" {
		t.Errorf("SafeFileName() = %q", got)
	}
}
