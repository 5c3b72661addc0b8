package normalize

import (
	"strings"
	"testing"
)

// TestText verifies lowercasing, punctuation stripping, whitespace
// collapsing and synonym folding.
func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "empty input",
			in:   "",
			want: "",
		},
		{
			name: "punctuation only",
			in:   "?!,.",
			want: "",
		},
		{
			name: "punctuation becomes token boundary",
			in:   "great,view!",
			want: "great view",
		},
		{
			name: "whitespace collapsed",
			in:   "  big \t apartment \n ",
			want: "big דירה",
		},
		{
			name: "uppercase folded",
			in:   "Apartment With ELEVATOR",
			want: "דירה with מעלית",
		},
		{
			name: "english room synonyms",
			in:   "3 rooms apartment",
			want: "3 חדרים דירה",
		},
		{
			name: "hebrew inflections",
			in:   "דירת 3 חדר עם מרפסות",
			want: "דירה 3 חדרים עם מרפסת",
		},
		{
			name: "multiword alias",
			in:   "includes air conditioning and parking",
			want: "includes מיזוג and חניה",
		},
		{
			name: "square meter abbreviation",
			in:   `80 מ"ר קומת קרקע`,
			want: "80 מטר קומה קרקע",
		},
		{
			name: "alias inside longer token untouched",
			in:   "bedroomy",
			want: "bedroomy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestTextIdempotent verifies normalization is stable under repeated
// application, including on inputs that exercise every synonym rule.
func TestTextIdempotent(t *testing.T) {
	inputs := []string{
		"דירת 4 חדרים משופצת עם מזגן ומרפסות, קומה 3",
		"Beautiful apartment, 3 rooms, balcony, air conditioning!",
		"80 sqm furnished apt near dizengoff",
		`דירה חדשה 100 מ"ר עם חנייה ומעלית`,
		"renovated room refurbished lift m2 floor",
	}

	for _, in := range inputs {
		once := Text(in)
		twice := Text(once)
		if once != twice {
			t.Errorf("Text not stable for %q:\n first: %q\nsecond: %q", in, once, twice)
		}
	}
}

// TestCollapseWhitespace verifies whitespace squeezing keeps punctuation
// and case intact.
func TestCollapseWhitespace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  a  b  ", "a b"},
		{"line\nbreaks\tand\ttabs", "line breaks and tabs"},
		{"Keep, Case & Marks!", "Keep, Case & Marks!"},
	}

	for _, tt := range tests {
		if got := CollapseWhitespace(tt.in); got != tt.want {
			t.Errorf("CollapseWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestLocationVariants verifies any spelling resolves to the full group
// with the canonical spelling first, and unknown places resolve to
// themselves.
func TestLocationVariants(t *testing.T) {
	tests := []struct {
		name      string
		term      string
		wantFirst string
		wantLen   int
		wantHas   string
	}{
		{
			name:      "canonical hebrew",
			term:      "תל אביב",
			wantFirst: "תל אביב",
			wantLen:   4,
			wantHas:   "tlv",
		},
		{
			name:      "english alias resolves to group",
			term:      "tel aviv",
			wantFirst: "תל אביב",
			wantLen:   4,
			wantHas:   "תל אביב - יפו",
		},
		{
			name:      "case insensitive lookup",
			term:      "TLV",
			wantFirst: "תל אביב",
			wantLen:   4,
			wantHas:   "tel aviv",
		},
		{
			name:      "neighborhood alias",
			term:      "florentin",
			wantFirst: "פלורנטין",
			wantLen:   2,
			wantHas:   "florentin",
		},
		{
			name:      "unknown place returns itself",
			term:      "גבעתיים",
			wantFirst: "גבעתיים",
			wantLen:   1,
			wantHas:   "גבעתיים",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LocationVariants(tt.term)
			if len(got) != tt.wantLen {
				t.Fatalf("LocationVariants(%q) = %v, want %d variants", tt.term, got, tt.wantLen)
			}
			if got[0] != tt.wantFirst {
				t.Errorf("LocationVariants(%q)[0] = %q, want %q", tt.term, got[0], tt.wantFirst)
			}
			found := false
			for _, v := range got {
				if v == tt.wantHas {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("LocationVariants(%q) = %v, missing %q", tt.term, got, tt.wantHas)
			}
		})
	}
}

// TestLocationVariantsDeterministic verifies repeated lookups return the
// group in the same order.
func TestLocationVariantsDeterministic(t *testing.T) {
	first := strings.Join(LocationVariants("jaffa"), "|")
	for range 10 {
		if got := strings.Join(LocationVariants("jaffa"), "|"); got != first {
			t.Fatalf("LocationVariants order changed: %q vs %q", got, first)
		}
	}
}

// TestFeatureGroups verifies the table order the scorer depends on.
func TestFeatureGroups(t *testing.T) {
	groups := FeatureGroups()
	if len(groups) != 9 {
		t.Fatalf("FeatureGroups() returned %d groups, want 9", len(groups))
	}
	if groups[0].Canonical != "מרפסת" {
		t.Errorf("first feature group = %q, want מרפסת", groups[0].Canonical)
	}
	if groups[len(groups)-1].Canonical != "מרכזי" {
		t.Errorf("last feature group = %q, want מרכזי", groups[len(groups)-1].Canonical)
	}
}
