package normalize

import (
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"case and spaces", "  COVID-19   Vaccines\tcontain\nMICROCHIPS ", "covid-19 vaccines contain microchips"},
		{"fullwidth", "ＣＯＶＩＤ vaccines", "covid vaccines"},
		{"compatibility ligature", "\ufb01nd the source", "find the source"},
		{"zero width", "micro\u200bchips", "microchips"},
		{"invalid utf8", "bad\xffbyte", "badbyte"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Text(c.in); got != c.want {
				t.Errorf("Text(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestTextIdempotent(t *testing.T) {
	in := "The Earth Is ＦＬＡＴ,   says   NASA"
	once := Text(in)
	if twice := Text(once); twice != once {
		t.Errorf("Text not idempotent: %q then %q", once, twice)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("word ", 200)
	got := Truncate(long, 5)
	if got != "word word word word word" {
		t.Errorf("Truncate = %q", got)
	}
	if Truncate("a b", 5) != "a b" {
		t.Errorf("Truncate shortened a short string")
	}
	if Truncate("a  b", 0) != "a  b" {
		t.Errorf("Truncate with zero budget changed input")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("vaccines contain microchips")
	b := Fingerprint("vaccines contain microchips")
	if a != b {
		t.Errorf("Fingerprint not stable")
	}
	if !strings.HasPrefix(a, FingerprintPrefix) {
		t.Errorf("Fingerprint missing prefix: %s", a)
	}
	if len(a) != len(FingerprintPrefix)+64 {
		t.Errorf("Fingerprint length = %d", len(a))
	}
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Errorf("part boundaries not preserved")
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		in         string
		wantScript string
		wantLang   string
	}{
		{"vaccines contain microchips", "Latin", "en"},
		{"вакцины содержат микрочипы", "Cyrillic", ""},
		{"ワクチンにはマイクロチップが含まれている", "Katakana", "ja"},
		{"12345 !!!", "", ""},
	}
	for _, c := range cases {
		script, lang := DetectLanguage(c.in)
		if script != c.wantScript || lang != c.wantLang {
			t.Errorf("DetectLanguage(%q) = (%q, %q), want (%q, %q)", c.in, script, lang, c.wantScript, c.wantLang)
		}
	}
}

func TestSupported(t *testing.T) {
	if !Supported("en", []string{"EN"}) {
		t.Errorf("en should be supported")
	}
	if Supported("", []string{"en"}) {
		t.Errorf("empty lang should not be supported")
	}
	if Supported("ja", []string{"en"}) {
		t.Errorf("ja should not be supported")
	}
}
