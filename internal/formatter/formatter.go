// Package formatter renders the two fixed text bodies the orchestrator
// ever generates for a minion: comm delivery text and scheduled-task
// prompts. Adapted from the teacher's slash-command template engine
// (text/template plus ${var}/$var expansion), repurposed from CRUD'ing
// user-defined command templates to two built-in renderers with
// frontmatter parsed via yaml.v3 instead of a hand-rolled scanner.
package formatter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

var (
	bracedVarRe = regexp.MustCompile(`\$\{(\w+)\}`)
	bareVarRe   = regexp.MustCompile(`\$(\w+)`)
)

// CommDeliveryTemplate is the default body a delivered comm is rendered
// into before injection into the recipient's SDK session.
const CommDeliveryTemplate = `{{.TypeLabel}} from {{.SenderLabel}}: {{.Summary}}

{{.Content}}
{{if .ReplyHint}}
{{.ReplyHint}}{{end}}`

// ScheduledTaskTemplate is the default body for a fired scheduled prompt.
const ScheduledTaskTemplate = `**[Scheduled Task: {{.Name}}]**

{{.Prompt}}`

// Render expands ${var}/$var references in tmplStr against data, then
// executes it as a text/template with data as its context. Parse or
// execution failures fall back to the simple-expansion result rather
// than erroring, matching the teacher's template engine's tolerance for
// malformed user templates.
func Render(tmplStr string, data any) string {
	expanded := expandSimpleVariables(tmplStr, data)

	tmpl, err := template.New("formatter").Funcs(templateFuncs()).Parse(expanded)
	if err != nil {
		return expanded
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return expanded
	}
	return buf.String()
}

// CommDelivery renders CommDeliveryTemplate for one delivered comm.
func CommDelivery(typeLabel, senderLabel, summary, content, replyHint string) string {
	return Render(CommDeliveryTemplate, struct {
		TypeLabel, SenderLabel, Summary, Content, ReplyHint string
	}{typeLabel, senderLabel, summary, content, replyHint})
}

// ScheduledTask renders ScheduledTaskTemplate for one fired schedule.
func ScheduledTask(name, prompt string) string {
	return Render(ScheduledTaskTemplate, struct{ Name, Prompt string }{name, prompt})
}

func expandSimpleVariables(s string, data any) string {
	fields, _ := toStringMap(data)

	s = bracedVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.ToLower(match[2 : len(match)-1])
		if val, ok := fields[name]; ok {
			return val
		}
		return match
	})

	return bareVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.ToLower(match[1:])
		if val, ok := fields[name]; ok {
			return val
		}
		return match
	})
}

// toStringMap marshals data to YAML and back into a flat string map, so
// ${var} expansion works against arbitrary struct contexts without
// reflection bookkeeping of our own. yaml.v3 lowercases struct field
// names, so keys are lowercase and expandSimpleVariables lowercases the
// variable name before looking it up.
func toStringMap(data any) (map[string]string, error) {
	raw, err := yaml.Marshal(data)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}
}

// Frontmatter is the parsed metadata header of a markdown-defined
// template: "---\nkey: value\n---\nbody".
type Frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Model       string `yaml:"model"`
}

// ParseFrontmatter splits a markdown document into its YAML frontmatter
// and body. A document with no leading "---" delimiter returns an empty
// Frontmatter and the document unchanged as the body.
func ParseFrontmatter(doc string) (Frontmatter, string) {
	var fm Frontmatter
	trimmed := strings.TrimLeft(doc, "\n")
	if !strings.HasPrefix(trimmed, "---") {
		return fm, doc
	}

	rest := strings.TrimPrefix(trimmed, "---")
	end := strings.Index(rest, "---")
	if end < 0 {
		return fm, doc
	}

	yamlBlock := rest[:end]
	body := strings.TrimPrefix(rest[end+3:], "\n")

	_ = yaml.Unmarshal([]byte(yamlBlock), &fm)
	return fm, body
}
