package classify

import (
	"strings"
	"testing"
)

func TestClassify_ImagesExcluded(t *testing.T) {
	for _, name := range []string{
		"photo.PNG", "image.jpg", "anim.gif", "scan.jpeg",
		"bitmap.bmp", "page.tiff", "sticker.webp",
	} {
		res := Classify(name)
		if res.Eligible {
			t.Errorf("Classify(%q): expected excluded, got eligible", name)
		}
		if res.Reason == "" {
			t.Errorf("Classify(%q): expected a reason for exclusion", name)
		}
	}
}

func TestClassify_DocumentsEligible(t *testing.T) {
	for _, name := range []string{"report.pdf", "data.CSV", "notes.txt", "archive.zip"} {
		res := Classify(name)
		if !res.Eligible {
			t.Errorf("Classify(%q): expected eligible, got excluded (%s)", name, res.Reason)
		}
		for _, r := range res.Name {
			if r < 0x20 {
				t.Errorf("Classify(%q): normalized name contains control character %q", name, r)
			}
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	a := Classify("weird*name?.pdf")
	b := Classify("weird*name?.pdf")
	if a != b {
		t.Errorf("Classify is not deterministic: %+v vs %+v", a, b)
	}
}

func TestNormalizeName_UnsafeCharacters(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{" quarterly report .txt ", "quarterly report .txt"},
		{"inv*oice?!.docx", "inv_oice__.docx"},
		{"../path/to/file.pdf", ".._path_to_file.pdf"},
		{"tab\there.csv", "tab_here.csv"},
		{"", PlaceholderName},
	}
	for _, tt := range tests {
		got := NormalizeName(tt.in)
		if got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeName_EmptyAfterNormalization(t *testing.T) {
	got := NormalizeName("???")
	if got != PlaceholderName {
		t.Errorf("NormalizeName(%q) = %q, want %q", "???", got, PlaceholderName)
	}
}

func TestNormalizeName_LengthCapPreservesExtension(t *testing.T) {
	long := strings.Repeat("a", 400) + ".tar.gz"
	got := NormalizeName(long)
	if len(got) > maxNameLength {
		t.Errorf("normalized name length = %d, want <= %d", len(got), maxNameLength)
	}
	if !strings.HasSuffix(got, ".gz") {
		t.Errorf("normalized name %q lost its extension", got)
	}
}

func TestNormalizeName_ControlCharacters(t *testing.T) {
	got := NormalizeName("bad\x00\x07name.pdf")
	for _, r := range got {
		if r < 0x20 {
			t.Fatalf("normalized name %q contains control character", got)
		}
	}
}
