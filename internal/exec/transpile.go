package exec

import (
	"regexp"
	"strings"
)

// typeName matches the annotations StripTypes removes: primitive names,
// capitalized (user) types, generics and array suffixes.
const typeName = `(?:string|number|boolean|any|void|unknown|never|object|[A-Z][\w.]*)(?:<[^<>()]*>)?(?:\[\])*`

// unionTail matches further members of a union, where null and undefined
// are also accepted.
const unionTail = `(?:[ \t]*\|[ \t]*(?:` + typeName + `|null|undefined))*`

var (
	typeAlias      = regexp.MustCompile(`(?m)^[ \t]*(?:export[ \t]+)?type[ \t]+\w+(?:<[^>]*>)?[ \t]*=[^;]*;[ \t]*\n?`)
	interfaceStart = regexp.MustCompile(`(?m)^[ \t]*(?:export[ \t]+)?interface[ \t]+\w+[^{]*\{`)
	asCast         = regexp.MustCompile(`[ \t]+as[ \t]+` + typeName)
	returnType     = regexp.MustCompile(`\)[ \t]*:[ \t]*` + typeName + unionTail + `[ \t]*(\{|=>)`)
	annotation     = regexp.MustCompile(`(?m)((?:[(,]|\b(?:let|const|var)[ \t]|^)[ \t]*[\w$]+)\??[ \t]*:[ \t]*` + typeName + unionTail + `([ \t]*(?:[=,;)]|$))`)
	modifiers      = regexp.MustCompile(`\b(?:public|private|protected|readonly)[ \t]+`)
	exportDecl     = regexp.MustCompile(`(?m)^([ \t]*)export[ \t]+(?:default[ \t]+)?(function|const|let|var|class)\b`)
)

// StripTypes turns simple TypeScript into JavaScript by deleting type
// syntax. It is a textual heuristic, not a compiler. Interfaces, type
// aliases, as-casts and access modifiers are removed, and so are annotations
// on declarations, parameters and fields whose type is a primitive or a
// capitalized name.
func StripTypes(code string) string {
	code = stripInterfaces(code)
	code = typeAlias.ReplaceAllString(code, "")
	code = asCast.ReplaceAllString(code, "")
	code = returnType.ReplaceAllString(code, ") $1")
	code = modifiers.ReplaceAllString(code, "")
	// adjacent parameters share a comma, so repeat until nothing matches
	for i := 0; i < 8; i++ {
		next := annotation.ReplaceAllString(code, "$1$2")
		if next == code {
			break
		}
		code = next
	}
	code = exportDecl.ReplaceAllString(code, "$1$2")
	return code
}

// stripInterfaces removes interface declarations including nested braces.
func stripInterfaces(code string) string {
	var b strings.Builder
	for {
		loc := interfaceStart.FindStringIndex(code)
		if loc == nil {
			b.WriteString(code)
			return b.String()
		}
		b.WriteString(code[:loc[0]])

		depth := 1
		i := loc[1]
		for ; i < len(code) && depth > 0; i++ {
			switch code[i] {
			case '{':
				depth++
			case '}':
				depth--
			}
		}
		if i < len(code) && code[i] == '\n' {
			i++
		}
		code = code[i:]
	}
}
