package language

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	xlanguage "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrEmpty is returned when no language was supplied.
var ErrEmpty = errors.New("language is empty")

// Language is a resolved story language.
type Language struct {
	// Code is the base BCP 47 code, or "und" for pass-through names.
	Code string
	// Name is the English display name used in prompts.
	Name string
	// Known reports whether the language matched a recognized tag.
	Known bool
}

var supported = []xlanguage.Tag{
	xlanguage.English,
	xlanguage.Spanish,
	xlanguage.French,
	xlanguage.German,
	xlanguage.Italian,
	xlanguage.Portuguese,
	xlanguage.Japanese,
	xlanguage.Korean,
	xlanguage.Chinese,
	xlanguage.Russian,
	xlanguage.Arabic,
	xlanguage.Hindi,
	xlanguage.Dutch,
	xlanguage.Polish,
	xlanguage.Swedish,
	xlanguage.Danish,
	xlanguage.Norwegian,
	xlanguage.Finnish,
	xlanguage.Turkish,
	xlanguage.Greek,
	xlanguage.Hebrew,
	xlanguage.Ukrainian,
	xlanguage.Vietnamese,
	xlanguage.Indonesian,
	xlanguage.Thai,
}

// Index maps built at init time, keyed by lowercase English and native names.
var byName map[string]xlanguage.Tag

func init() {
	byName = make(map[string]xlanguage.Tag, len(supported)*2)
	english := display.English.Tags()
	for _, tag := range supported {
		if name := strings.ToLower(english.Name(tag)); name != "" {
			byName[name] = tag
		}
		if self := strings.ToLower(display.Self.Name(tag)); self != "" {
			byName[self] = tag
		}
	}
}

// Resolve maps a user-supplied language onto a Language.
func Resolve(value string) (Language, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Language{}, ErrEmpty
	}
	if tag, ok := byName[strings.ToLower(value)]; ok {
		return fromTag(tag), nil
	}
	if tag, err := xlanguage.Parse(value); err == nil && tag != xlanguage.Und {
		if base, conf := tag.Base(); conf != xlanguage.No {
			if name := display.English.Languages().Name(base); name != "" {
				return Language{Code: base.String(), Name: name, Known: true}, nil
			}
		}
	}
	if !isPlainName(value) {
		return Language{}, fmt.Errorf("language %q is not a recognized name or tag", value)
	}
	return Language{
		Code: xlanguage.Und.String(),
		Name: cases.Title(xlanguage.English).String(strings.ToLower(value)),
	}, nil
}

// ResolveOr resolves value, falling back to def when value is blank.
func ResolveOr(value, def string) (Language, error) {
	if strings.TrimSpace(value) == "" {
		value = def
	}
	return Resolve(value)
}

// DisplayName returns the English name for value, or value itself when it
// cannot be resolved.
func DisplayName(value string) string {
	lang, err := Resolve(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return lang.Name
}

// Supported lists the English names of the languages recognized by name.
func Supported() []string {
	english := display.English.Tags()
	names := make([]string, 0, len(supported))
	for _, tag := range supported {
		names = append(names, english.Name(tag))
	}
	sort.Strings(names)
	return names
}

func fromTag(tag xlanguage.Tag) Language {
	base, _ := tag.Base()
	return Language{
		Code:  base.String(),
		Name:  display.English.Languages().Name(base),
		Known: true,
	}
}

func isPlainName(value string) bool {
	if len(value) > 40 {
		return false
	}
	for _, r := range value {
		if !unicode.IsLetter(r) && r != ' ' && r != '-' {
			return false
		}
	}
	return true
}
