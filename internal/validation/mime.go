package validation

import (
	"mime"
	"strings"
)

// CanonicalMIME приводит MIME-тип к каноническому виду: тип в нижнем
// регистре, charset=utf-8 для текстовых типов без charset. Значение без "/"
// считается расширением файла. Пустая строка — тип не распознан.
func CanonicalMIME(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.Contains(value, "/") {
		return MIMEByExtension(value)
	}
	return normalize(value)
}

// MIMEByExtension возвращает канонический MIME-тип для расширения
// (с ведущей точкой или без) по реестру extensionTypes.
func MIMEByExtension(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return ""
	}
	t, ok := extensionTypes[strings.ToLower(ext)]
	if !ok {
		return ""
	}
	return normalize(t)
}

func normalize(value string) string {
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil || !strings.Contains(mediaType, "/") {
		return ""
	}

	if cs, ok := params["charset"]; ok {
		params["charset"] = strings.ToLower(cs)
	} else if defaultsToUTF8(mediaType) {
		params["charset"] = "utf-8"
	}
	return mime.FormatMediaType(mediaType, params)
}

func defaultsToUTF8(mediaType string) bool {
	switch mediaType {
	case "application/json", "application/javascript":
		return true
	}
	return strings.HasPrefix(mediaType, "text/")
}
