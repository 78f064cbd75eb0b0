package prefix

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"two words", "Kill Bill", []string{"ki", "kil", "kill", "bi", "bil", "bill"}},
		{"single char words skipped", "Kill Bill 2", []string{"ki", "kil", "kill", "bi", "bil", "bill"}},
		{"repeated delimiters", "  The\t\tDark  ", []string{"th", "the", "da", "dar", "dark"}},
		{"empty", "", []string{}},
		{"only short words", "a b c", []string{}},
		{"duplicates kept", "Bo Bo", []string{"bo", "bo"}},
		{"runes not bytes", "Émile", []string{"ém", "émi", "émil", "émile"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Generate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateProperties(t *testing.T) {
	inputs := []string{
		"Kill Bill", "King Kong", "Killer Elite", "Kilts for Bill", "Kill Bill 2",
		"Kids", "Kindergarten Cop", "The Green Mile", "The Dark Knight",
		"The Dark Knight Rises", "x", "ÀÉÎ õü", "tab\tseparated\nlines",
	}
	for _, in := range inputs {
		words := strings.Fields(strings.ToLower(in))
		for _, p := range Generate(in) {
			if utf8.RuneCountInString(p) < MinLength {
				t.Errorf("%q: prefix %q shorter than %d", in, p, MinLength)
			}
			found := false
			for _, w := range words {
				if strings.HasPrefix(w, p) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("%q: prefix %q is not a prefix of any word", in, p)
			}
		}
	}
}

func TestFor(t *testing.T) {
	got := For("Bill bill BILLY")
	want := []string{"bi", "bil", "bill", "billy"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("For = %v, want %v", got, want)
	}
}
