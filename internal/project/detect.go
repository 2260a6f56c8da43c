package project

import (
	"os"
	"path/filepath"
)

// Language is the primary language of a project tree.
type Language string

const (
	LangGo         Language = "go"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangUnknown    Language = "unknown"
)

// DetectLanguage detects the primary language of a project from manifest files.
// Returns the language, manifest path, and whether detection succeeded.
func DetectLanguage(root string) (Language, string, bool) {
	// Check for manifest files in priority order
	manifests := []struct {
		path string
		lang Language
	}{
		{"go.mod", LangGo},
		{"package.json", LangTypeScript},
		{"Cargo.toml", LangRust},
		{"pyproject.toml", LangPython},
		{"requirements.txt", LangPython},
		{"setup.py", LangPython},
		{"pom.xml", LangJava},
		{"build.gradle", LangJava},
		{"build.gradle.kts", LangKotlin},
	}

	for _, m := range manifests {
		if _, err := os.Stat(filepath.Join(root, m.path)); err == nil {
			lang := m.lang
			if m.path == "package.json" {
				lang = detectJSorTS(root)
			}
			return lang, m.path, true
		}
	}
	return LangUnknown, "", false
}

// detectJSorTS checks if a project is TypeScript or JavaScript.
func detectJSorTS(root string) Language {
	if _, err := os.Stat(filepath.Join(root, "tsconfig.json")); err == nil {
		return LangTypeScript
	}
	if hasFileWithExt(root, ".ts") || hasFileWithExt(filepath.Join(root, "src"), ".ts") {
		return LangTypeScript
	}
	return LangJavaScript
}

func hasFileWithExt(dir, ext string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ext {
			return true
		}
	}
	return false
}

// DefaultIncludes returns the source globs registered for a language
// when no --include is given. Nil selects every file.
func DefaultIncludes(lang Language) []string {
	switch lang {
	case LangGo:
		return []string{"**/*.go"}
	case LangTypeScript:
		return []string{"**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx"}
	case LangJavaScript:
		return []string{"**/*.js", "**/*.jsx", "**/*.mjs", "**/*.cjs"}
	case LangPython:
		return []string{"**/*.py"}
	case LangRust:
		return []string{"**/*.rs"}
	case LangJava:
		return []string{"**/*.java"}
	case LangKotlin:
		return []string{"**/*.kt", "**/*.kts", "**/*.java"}
	default:
		return nil
	}
}

// DefaultExcludes returns build output directories of a language.
func DefaultExcludes(lang Language) []string {
	switch lang {
	case LangTypeScript, LangJavaScript:
		return []string{"**/dist/**", "**/build/**"}
	case LangPython:
		return []string{"**/__pycache__/**", "**/.venv/**"}
	case LangRust:
		return []string{"**/target/**"}
	case LangJava, LangKotlin:
		return []string{"**/target/**", "**/build/**"}
	default:
		return nil
	}
}
