package witness

import "sort"

// Language is one variant of the closed set of supported check languages.
// Each variant owns its interpreter default and argv construction.
type Language interface {
	// Name is the tag used in check definitions.
	Name() string

	// Interpreter is the default entrypoint.
	Interpreter() string

	// Extension is the file suffix for the materialized code.
	Extension() string

	// Argv builds the child command line.
	Argv(interpreter, codePath string, args []string) []string
}

type pythonLanguage struct{}

func (pythonLanguage) Name() string        { return "python" }
func (pythonLanguage) Interpreter() string { return "python3" }
func (pythonLanguage) Extension() string   { return ".py" }

// -B keeps the interpreter from writing __pycache__ into the workdir.
func (pythonLanguage) Argv(interpreter, codePath string, args []string) []string {
	return append([]string{interpreter, "-B", codePath}, args...)
}

type nodeLanguage struct{}

func (nodeLanguage) Name() string        { return "node" }
func (nodeLanguage) Interpreter() string { return "node" }
func (nodeLanguage) Extension() string   { return ".js" }

func (nodeLanguage) Argv(interpreter, codePath string, args []string) []string {
	return append([]string{interpreter, codePath}, args...)
}

type bashLanguage struct{}

func (bashLanguage) Name() string        { return "bash" }
func (bashLanguage) Interpreter() string { return "bash" }
func (bashLanguage) Extension() string   { return ".sh" }

func (bashLanguage) Argv(interpreter, codePath string, args []string) []string {
	return append([]string{interpreter, "--noprofile", "--norc", codePath}, args...)
}

type shellLanguage struct{}

func (shellLanguage) Name() string        { return "shell" }
func (shellLanguage) Interpreter() string { return "sh" }
func (shellLanguage) Extension() string   { return ".sh" }

func (shellLanguage) Argv(interpreter, codePath string, args []string) []string {
	return append([]string{interpreter, codePath}, args...)
}

var languages = map[string]Language{
	"python": pythonLanguage{},
	"node":   nodeLanguage{},
	"bash":   bashLanguage{},
	"shell":  shellLanguage{},
}

// LookupLanguage returns the variant for tag.
func LookupLanguage(tag string) (Language, bool) {
	lang, ok := languages[tag]
	return lang, ok
}

// Languages returns the supported tags in sorted order.
func Languages() []string {
	tags := make([]string, 0, len(languages))
	for tag := range languages {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
