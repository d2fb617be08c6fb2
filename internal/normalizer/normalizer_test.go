package normalizer

import (
	"reflect"
	"testing"
)

func TestNormalizeCity(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Київ", "київ"},
		{"Києва", "київ"},
		{"  м. Харкова ", "харків"},
		{"м.Одеси", "одеса"},
		{"смт. Ворзель", "ворзель"},
		{"с. Олександрівка (Кропивницький р-н)", "олександрівка"},
		{"«Бровари»", "бровари"},
		{"село   Нові   Петрівці", "нові петрівці"},
		{"Kyiv", "київ"},
		{"Незнайомка", "незнайомка"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeCity(tt.in); got != tt.want {
				t.Errorf("NormalizeCity(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeCityMemoizedIsStable(t *testing.T) {
	first := NormalizeCity("Львова")
	second := NormalizeCity("Львова")
	if first != "львів" || first != second {
		t.Errorf("unstable memoized result: %q vs %q", first, second)
	}
}

func TestNormalizeOblast(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"сумщина", "сумська"},
		{"Сумська область", "сумська"},
		{"сумська", "сумська"},
		{"Харківської області", "харківська"},
		{"Запорізька обл.", "запорізька"},
		{"Буковина", "чернівецька"},
		{"Прикарпаття", "івано-франківська"},
		{"на Київщині", ""},
		{"ка", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeOblast(tt.in); got != tt.want {
				t.Errorf("NormalizeOblast(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNameVariants(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"олександрівку", []string{"олександрівку", "олександрівка"}},
		{"олександрівки", []string{"олександрівки", "олександрівка"}},
		{"полтаві", []string{"полтаві", "полтава"}},
		{"зеленого", []string{"зеленого", "зелене", "зелений"}},
		{"новоселівської", []string{"новоселівської", "новоселівська"}},
		{"київ", []string{"київ"}},
		{"ріу", []string{"ріу"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NameVariants(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NameVariants(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
	if NameVariants("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestNameVariantsReturnsCopy(t *testing.T) {
	v := NameVariants("полтаві")
	v[0] = "mutated"
	if NameVariants("полтаві")[0] != "полтаві" {
		t.Error("memoized slice was mutated through caller copy")
	}
}

func TestIsDirectionWord(t *testing.T) {
	for _, w := range []string{"північ", "Схід", " пд ", "південно-західний"} {
		if !IsDirectionWord(w) {
			t.Errorf("expected %q to be a direction", w)
		}
	}
	for _, w := range []string{"київ", "північне", ""} {
		if IsDirectionWord(w) {
			t.Errorf("did not expect %q to be a direction", w)
		}
	}
}

func TestExtractLocationFromText(t *testing.T) {
	text := "Шахед курсом на Бровари, ще один в районі Борисполя. Вибухи над водою. Харківська область: біля Чугуєва, з Бєлгорода курсом на Харків"
	mentions := ExtractLocationFromText(text)

	find := func(kind MentionKind, name string) bool {
		for _, m := range mentions {
			if m.Kind == kind && m.Name == name {
				return true
			}
		}
		return false
	}

	if !find(MentionTarget, "бровари") {
		t.Errorf("missing target бровари in %+v", mentions)
	}
	if !find(MentionLocation, "борисполя") {
		t.Errorf("missing location борисполя in %+v", mentions)
	}
	if !find(MentionLocation, "чугуєва") {
		t.Errorf("missing біля чугуєва in %+v", mentions)
	}
	if !find(MentionSource, "бєлгорода") {
		t.Errorf("missing source бєлгорода in %+v", mentions)
	}
	for _, m := range mentions {
		if m.Name == "водою" {
			t.Errorf("над водою must be filtered: %+v", m)
		}
	}
	if got := ExtractOblast(text); got != "харківська" {
		t.Errorf("ExtractOblast = %q, want харківська", got)
	}
}

func TestExtractOblastShortForm(t *testing.T) {
	if got := ExtractOblast("Увага, Сумщина! Загроза БПЛА"); got != "сумська" {
		t.Errorf("ExtractOblast = %q, want сумська", got)
	}
	if got := ExtractOblast("без згадки регіону"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestMentionsOblast(t *testing.T) {
	if !MentionsOblast("Кіровоградщина: БПЛА", "кіровоградська") {
		t.Error("expected -щина form to match")
	}
	if !MentionsOblast("у межах Одеської області", "одеська") {
		t.Error("expected genitive form to match")
	}
	if MentionsOblast("Київ", "одеська") {
		t.Error("unexpected match")
	}
}
