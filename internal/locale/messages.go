package locale

// 日程渲染与机器人共用的消息键
const (
	MsgNothingPlanned = "nothing_planned"
	MsgProgress       = "progress"
)

var messages = map[string]map[string]string{
	MsgNothingPlanned: {LanguagePortuguese: "Nada planejado.", LanguageEnglish: "Nothing planned."},
	MsgProgress:       {LanguagePortuguese: "Progresso", LanguageEnglish: "Progress"},
}

// Text 查找消息键，缺失时依次回退到葡萄牙语与键本身
func Text(language, key string) string {
	entry, ok := messages[key]
	if !ok {
		return key
	}
	return Pick(language, entry[LanguageEnglish], entry[LanguagePortuguese])
}

// Pick 返回与请求语言匹配的文本，默认葡萄牙语
func Pick(language, english, portuguese string) string {
	if NormalizeLanguage(language) == LanguageEnglish && english != "" {
		return english
	}
	if portuguese != "" {
		return portuguese
	}
	return english
}
