package project

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name         string
		files        []string
		wantLang     Language
		wantManifest string
		wantOK       bool
	}{
		{"go", []string{"go.mod"}, LangGo, "go.mod", true},
		{"typescript via tsconfig", []string{"package.json", "tsconfig.json"}, LangTypeScript, "package.json", true},
		{"typescript via src", []string{"package.json", "src/index.ts"}, LangTypeScript, "package.json", true},
		{"javascript", []string{"package.json", "index.js"}, LangJavaScript, "package.json", true},
		{"rust", []string{"Cargo.toml"}, LangRust, "Cargo.toml", true},
		{"python", []string{"requirements.txt"}, LangPython, "requirements.txt", true},
		{"go wins over package.json", []string{"package.json", "go.mod"}, LangGo, "go.mod", true},
		{"kotlin", []string{"build.gradle.kts"}, LangKotlin, "build.gradle.kts", true},
		{"unknown", []string{"README.md"}, LangUnknown, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, f := range tt.files {
				path := filepath.Join(root, f)
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
					t.Fatal(err)
				}
			}

			lang, manifest, ok := DetectLanguage(root)
			if lang != tt.wantLang || manifest != tt.wantManifest || ok != tt.wantOK {
				t.Errorf("DetectLanguage() = (%q, %q, %v), want (%q, %q, %v)",
					lang, manifest, ok, tt.wantLang, tt.wantManifest, tt.wantOK)
			}
		})
	}
}

func TestDefaultGlobs(t *testing.T) {
	if got := DefaultIncludes(LangGo); !reflect.DeepEqual(got, []string{"**/*.go"}) {
		t.Errorf("DefaultIncludes(go) = %v", got)
	}
	if got := DefaultIncludes(LangUnknown); got != nil {
		t.Errorf("DefaultIncludes(unknown) = %v, want nil", got)
	}
	if got := DefaultExcludes(LangRust); !reflect.DeepEqual(got, []string{"**/target/**"}) {
		t.Errorf("DefaultExcludes(rust) = %v", got)
	}
	if got := DefaultExcludes(LangGo); got != nil {
		t.Errorf("DefaultExcludes(go) = %v, want nil", got)
	}
}
