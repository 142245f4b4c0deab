package software3

// Language is a programming language tag of a block.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageJava       Language = "java"
	LanguageCSharp     Language = "csharp"
	LanguageCPP        Language = "cpp"
	LanguageC          Language = "c"
	LanguageGo         Language = "go"
	LanguageRust       Language = "rust"
	LanguagePHP        Language = "php"
	LanguageRuby       Language = "ruby"
	LanguageSwift      Language = "swift"
	LanguageKotlin     Language = "kotlin"
	LanguageScala      Language = "scala"
	LanguageHTML       Language = "html"
	LanguageCSS        Language = "css"
	LanguageSQL        Language = "sql"
	LanguageBash       Language = "bash"
	LanguagePowerShell Language = "powershell"
	LanguageYAML       Language = "yaml"
	LanguageJSON       Language = "json"
	LanguageDockerfile Language = "dockerfile"
	LanguageTerraform  Language = "terraform"
	LanguageNginx      Language = "nginx"
	LanguageApache     Language = "apache"
	LanguageXML        Language = "xml"
	LanguageMarkdown   Language = "markdown"
	LanguagePlaintext  Language = "plaintext"
	LanguageOther      Language = "other"

	// LanguageMulti marks a block whose code is a map of language to source.
	LanguageMulti Language = "multi"
)

var languages = []Language{
	LanguageJavaScript, LanguageTypeScript, LanguagePython, LanguageJava,
	LanguageCSharp, LanguageCPP, LanguageC, LanguageGo, LanguageRust, LanguagePHP,
	LanguageRuby, LanguageSwift, LanguageKotlin, LanguageScala, LanguageHTML,
	LanguageCSS, LanguageSQL, LanguageBash, LanguagePowerShell, LanguageYAML,
	LanguageJSON, LanguageDockerfile, LanguageTerraform, LanguageNginx,
	LanguageApache, LanguageXML, LanguageMarkdown, LanguagePlaintext,
	LanguageMulti, LanguageOther,
}

var knownLanguages = func() map[Language]bool {
	m := make(map[Language]bool, len(languages))
	for _, l := range languages {
		m[l] = true
	}
	return m
}()

// Languages returns every valid language tag.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// IsValid reports whether l is one of the known language tags.
func (l Language) IsValid() bool {
	return knownLanguages[l]
}

// fenceAliases maps common markdown fence names onto language tags.
var fenceAliases = map[string]Language{
	"js":     LanguageJavaScript,
	"node":   LanguageJavaScript,
	"ts":     LanguageTypeScript,
	"py":     LanguagePython,
	"sh":     LanguageBash,
	"shell":  LanguageBash,
	"zsh":    LanguageBash,
	"c++":    LanguageCPP,
	"cs":     LanguageCSharp,
	"yml":    LanguageYAML,
	"htm":    LanguageHTML,
	"md":     LanguageMarkdown,
	"text":   LanguagePlaintext,
	"txt":    LanguagePlaintext,
	"rb":     LanguageRuby,
	"rs":     LanguageRust,
	"kt":     LanguageKotlin,
	"tf":     LanguageTerraform,
	"golang": LanguageGo,
}

// LanguageFromFence maps a fenced code info word to a language tag.
// Unknown names map to LanguageOther and an empty name to LanguagePlaintext.
func LanguageFromFence(name string) Language {
	if name == "" {
		return LanguagePlaintext
	}
	l := Language(name)
	if l.IsValid() && l != LanguageMulti {
		return l
	}
	if alias, ok := fenceAliases[name]; ok {
		return alias
	}
	return LanguageOther
}
