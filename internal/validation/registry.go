package validation

// extensionTypes — реестр расширений: расширение в нижнем регистре без точки
// и MIME-тип без параметров. Таблица фиксирована, файлы /etc/mime.types
// хоста не используются. При конфликте расширений выбран тип из IANA,
// при равенстве — application/*.
var extensionTypes = map[string]string{
	// текст
	"txt":      "text/plain",
	"text":     "text/plain",
	"conf":     "text/plain",
	"log":      "text/plain",
	"ini":      "text/plain",
	"csv":      "text/csv",
	"tsv":      "text/tab-separated-values",
	"html":     "text/html",
	"htm":      "text/html",
	"shtml":    "text/html",
	"css":      "text/css",
	"md":       "text/markdown",
	"markdown": "text/markdown",
	"yaml":     "text/yaml",
	"yml":      "text/yaml",
	"ics":      "text/calendar",
	"vcard":    "text/vcard",
	"rtx":      "text/richtext",

	// данные и код
	"json":  "application/json",
	"map":   "application/json",
	"js":    "application/javascript",
	"mjs":   "application/javascript",
	"xml":   "application/xml",
	"xsl":   "application/xml",
	"xsd":   "application/xml",
	"sql":   "application/sql",
	"wasm":  "application/wasm",
	"sh":    "application/x-sh",
	"bin":   "application/octet-stream",
	"iso":   "application/octet-stream",
	"dmg":   "application/octet-stream",
	"deb":   "application/octet-stream",
	"jar":   "application/java-archive",
	"rss":   "application/rss+xml",
	"atom":  "application/atom+xml",
	"xhtml": "application/xhtml+xml",

	// документы
	"pdf":  "application/pdf",
	"rtf":  "application/rtf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"odt":  "application/vnd.oasis.opendocument.text",
	"ods":  "application/vnd.oasis.opendocument.spreadsheet",
	"odp":  "application/vnd.oasis.opendocument.presentation",
	"epub": "application/epub+zip",

	// архивы
	"zip": "application/zip",
	"gz":  "application/gzip",
	"tgz": "application/x-tar",
	"tar": "application/x-tar",
	"bz2": "application/x-bzip2",
	"7z":  "application/x-7z-compressed",
	"rar": "application/vnd.rar",

	// изображения
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"jpe":  "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"svgz": "image/svg+xml",
	"ico":  "image/vnd.microsoft.icon",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"avif": "image/avif",
	"heic": "image/heic",
	"heif": "image/heif",

	// аудио
	"mp3":  "audio/mpeg",
	"mpga": "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"oga":  "audio/ogg",
	"opus": "audio/ogg",
	"m4a":  "audio/mp4",
	"aac":  "audio/x-aac",
	"flac": "audio/x-flac",
	"mid":  "audio/midi",
	"midi": "audio/midi",
	"weba": "audio/webm",

	// видео
	"mp4":  "video/mp4",
	"m4v":  "video/x-m4v",
	"mpeg": "video/mpeg",
	"mpg":  "video/mpeg",
	"mov":  "video/quicktime",
	"qt":   "video/quicktime",
	"webm": "video/webm",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
	"ogv":  "video/ogg",
	"3gp":  "video/3gpp",
	"flv":  "video/x-flv",

	// шрифты
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
}
