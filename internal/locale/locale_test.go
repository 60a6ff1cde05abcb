package locale

import "testing"

func TestNormalizeLanguage(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "pt", want: LanguagePortuguese},
		{input: "pt-BR", want: LanguagePortuguese},
		{input: "PT_pt", want: LanguagePortuguese},
		{input: "en", want: LanguageEnglish},
		{input: "en-US", want: LanguageEnglish},
		{input: "fr", want: ""},
		{input: "", want: ""},
	}

	for _, tc := range cases {
		if got := NormalizeLanguage(tc.input); got != tc.want {
			t.Fatalf("NormalizeLanguage(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestLanguageFromAcceptLanguage(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "pt-BR,pt;q=0.9", want: LanguagePortuguese},
		{input: "en-US,en;q=0.9", want: LanguageEnglish},
		{input: "fr-FR, en;q=0.5", want: LanguageEnglish},
		{input: "de", want: ""},
		{input: "", want: ""},
	}

	for _, tc := range cases {
		if got := LanguageFromAcceptLanguage(tc.input); got != tc.want {
			t.Fatalf("LanguageFromAcceptLanguage(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestWeekdayName(t *testing.T) {
	cases := []struct {
		lang    string
		weekday int
		want    string
	}{
		{lang: "", weekday: 0, want: "Segunda-feira"},
		{lang: "pt", weekday: 5, want: "Sábado"},
		{lang: "pt-BR", weekday: 6, want: "Domingo"},
		{lang: "en", weekday: 1, want: "Tuesday"},
		{lang: "en", weekday: 7, want: ""},
	}

	for _, tc := range cases {
		if got := WeekdayName(tc.lang, tc.weekday); got != tc.want {
			t.Fatalf("WeekdayName(%q, %d) = %q, want %q", tc.lang, tc.weekday, got, tc.want)
		}
	}
}

func TestPick(t *testing.T) {
	if got := Pick("en", "Tasks", "Tarefas"); got != "Tasks" {
		t.Fatalf("Pick(en) = %q", got)
	}
	if got := Pick("", "Tasks", "Tarefas"); got != "Tarefas" {
		t.Fatalf("Pick(default) = %q", got)
	}
	if got := Pick("pt", "Tasks", ""); got != "Tasks" {
		t.Fatalf("Pick fallback = %q", got)
	}
}

func TestText(t *testing.T) {
	if got := Text("en-US", MsgProgress); got != "Progress" {
		t.Fatalf("Text(en) = %q", got)
	}
	if got := Text("fr", MsgNothingPlanned); got != "Nada planejado." {
		t.Fatalf("Text(default) = %q", got)
	}
	if got := Text("pt", "unknown_key"); got != "unknown_key" {
		t.Fatalf("Text(unknown) = %q", got)
	}
}
