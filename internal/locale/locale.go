package locale

import "strings"

const (
	LanguagePortuguese = "pt"
	LanguageEnglish    = "en"
)

func NormalizeLanguage(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "pt") || trimmed == "br" {
		return LanguagePortuguese
	}
	if strings.HasPrefix(trimmed, "en") {
		return LanguageEnglish
	}
	return ""
}

// LanguageFromAcceptLanguage 返回 Accept-Language 中第一个支持的语言
func LanguageFromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag, _, _ := strings.Cut(part, ";")
		if lang := NormalizeLanguage(tag); lang != "" {
			return lang
		}
	}
	return ""
}

var weekdays = map[string][7]string{
	LanguagePortuguese: {"Segunda-feira", "Terça-feira", "Quarta-feira", "Quinta-feira", "Sexta-feira", "Sábado", "Domingo"},
	LanguageEnglish:    {"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"},
}

// WeekdayName 返回星期名称（周一为 0）
func WeekdayName(language string, weekday int) string {
	if weekday < 0 || weekday > 6 {
		return ""
	}
	lang := NormalizeLanguage(language)
	if lang == "" {
		lang = LanguagePortuguese
	}
	return weekdays[lang][weekday]
}
