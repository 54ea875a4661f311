package slug

import (
	"strings"
	"testing"
	"time"

	"horse.fit/finwire/internal/globaltime"
)

func TestMake(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		title string
		want  string
	}{
		{name: "simple", title: "Fed signals rate cut", want: "fed-signals-rate-cut"},
		{name: "punctuation", title: "Bitcoin surges past $50,000!", want: "bitcoin-surges-past-50000"},
		{name: "whitespace runs", title: "  Markets   rally \t again ", want: "markets-rally-again"},
		{name: "repeated hyphens", title: "pre--existing -- hyphens", want: "pre-existing-hyphens"},
		{name: "unicode stripped", title: "Özil über café", want: "zil-ber-caf"},
		{name: "empty", title: "", want: ""},
		{name: "only symbols", title: "$$$ !!! @@@", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Make(tc.title); got != tc.want {
				t.Fatalf("Make(%q) = %q, want %q", tc.title, got, tc.want)
			}
		})
	}
}

func TestMakeIdempotent(t *testing.T) {
	t.Parallel()

	titles := []string{"Fed signals rate cut", "Bitcoin hits $50k", "UK inflation: what's next?"}
	for _, title := range titles {
		once := Make(title)
		if twice := Make(once); twice != once {
			t.Fatalf("Make not idempotent for %q: %q != %q", title, twice, once)
		}
	}
}

func TestMakeAlphabetAndLength(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Quarterly Earnings Report ", 20)
	got := Make(long)
	if len(got) > 100 {
		t.Fatalf("slug exceeds 100 chars: %d", len(got))
	}
	if strings.HasSuffix(got, "-") {
		t.Fatalf("truncated slug has trailing hyphen: %q", got)
	}
	for _, r := range got {
		isValid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		if !isValid {
			t.Fatalf("slug contains invalid rune %q in %q", r, got)
		}
	}
}

func TestMakeCasePunctuationEquivalence(t *testing.T) {
	t.Parallel()

	if Make("Fed Signals Rate Cut") != Make("fed signals rate cut!!!") {
		t.Fatalf("case/punctuation variants should produce the same slug")
	}
}

func TestUnique(t *testing.T) {
	t.Parallel()

	taken := map[string]struct{}{
		"fed-signals-rate-cut":   {},
		"fed-signals-rate-cut-1": {},
	}
	got := Unique("Fed signals rate cut", taken)
	if got != "fed-signals-rate-cut-2" {
		t.Fatalf("unexpected unique slug: %q", got)
	}
	if _, exists := taken[got]; exists {
		t.Fatalf("Unique returned a taken slug: %q", got)
	}

	free := Unique("Tesla battery breakthrough", taken)
	if free != "tesla-battery-breakthrough" {
		t.Fatalf("unexpected slug for free title: %q", free)
	}
}

func TestUniqueEmptyTitleFallback(t *testing.T) {
	globaltime.Freeze(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.Unfreeze()

	first := Unique("$$$", nil)
	second := Unique("!!!", nil)
	if first == "" {
		t.Fatalf("expected non-empty fallback slug")
	}
	if first != second {
		t.Fatalf("fallback should be deterministic under a fixed clock: %q != %q", first, second)
	}
	if !strings.HasPrefix(first, "article-") {
		t.Fatalf("unexpected fallback shape: %q", first)
	}

	taken := map[string]struct{}{first: {}}
	suffixed := Unique("$$$", taken)
	if suffixed != first+"-1" {
		t.Fatalf("expected suffixed fallback, got %q", suffixed)
	}
}
