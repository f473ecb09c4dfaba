package businessflow

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/amirphl/funnel-campaigns/models"
)

// Placeholders are written {{name}}. The single-brace {name} form from older
// wizards is still accepted. Unresolvable placeholders stay in the text verbatim.

type leadField int

const (
	leadFieldName leadField = iota
	leadFieldPhone
	leadFieldEmail
)

var templateAliases = map[string]leadField{
	"nome":     leadFieldName,
	"name":     leadFieldName,
	"telefone": leadFieldPhone,
	"phone":    leadFieldPhone,
	"email":    leadFieldEmail,
}

// TemplateAliases lists the contact placeholders available on every lead
func TemplateAliases() []string {
	return []string{"nome", "telefone", "email"}
}

// RenderResult is a rendered template plus the placeholders that could not be resolved
type RenderResult struct {
	Text       string
	Unresolved []string
}

// Length is the rendered length in characters
func (r RenderResult) Length() int {
	return utf8.RuneCountInString(r.Text)
}

// RenderTemplate substitutes placeholders from the lead. It never fails.
func RenderTemplate(tpl string, lead *models.Lead) string {
	return Render(tpl, lead).Text
}

// Render substitutes placeholders from the lead and reports which were left unresolved
func Render(tpl string, lead *models.Lead) RenderResult {
	var (
		b          strings.Builder
		unresolved []string
	)
	b.Grow(len(tpl))

	scanPlaceholders(tpl, func(literal string) {
		b.WriteString(literal)
	}, func(raw, name string) {
		if v, ok := resolveVariable(name, lead); ok {
			b.WriteString(v)
			return
		}
		b.WriteString(raw)
		unresolved = append(unresolved, name)
	})

	return RenderResult{Text: b.String(), Unresolved: unresolved}
}

// TemplateInfo describes a template before any lead is applied
type TemplateInfo struct {
	Variables []string
	RawLength int
}

// InspectTemplate lists the distinct placeholders in order of first use
func InspectTemplate(tpl string) TemplateInfo {
	seen := make(map[string]bool)
	var vars []string
	scanPlaceholders(tpl, func(string) {}, func(_, name string) {
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	})
	return TemplateInfo{Variables: vars, RawLength: utf8.RuneCountInString(tpl)}
}

func resolveVariable(name string, lead *models.Lead) (string, bool) {
	if lead == nil {
		return "", false
	}
	if v, ok := lead.Answer(name); ok {
		return v, true
	}

	field, ok := templateAliases[strings.ToLower(name)]
	if !ok {
		return "", false
	}

	var p *string
	switch field {
	case leadFieldName:
		p = lead.Name
	case leadFieldPhone:
		p = lead.Phone
	case leadFieldEmail:
		p = lead.Email
	}
	if p == nil {
		return "", false
	}
	return *p, true
}

// scanPlaceholders walks tpl calling onLiteral for plain text and onVar for each placeholder.
// raw is the placeholder exactly as written, name is its trimmed inner identifier.
func scanPlaceholders(tpl string, onLiteral func(string), onVar func(raw, name string)) {
	start := 0
	i := 0
	for i < len(tpl) {
		if tpl[i] != '{' {
			i++
			continue
		}

		open, closer := 1, "}"
		if strings.HasPrefix(tpl[i:], "{{") {
			open, closer = 2, "}}"
		}

		end := strings.Index(tpl[i+open:], closer)
		if end < 0 {
			i += open
			continue
		}

		inner := tpl[i+open : i+open+end]
		name := strings.TrimSpace(inner)
		if !validVariableName(name) {
			i += open
			continue
		}

		if start < i {
			onLiteral(tpl[start:i])
		}
		raw := tpl[i : i+open+end+len(closer)]
		onVar(raw, name)
		i += len(raw)
		start = i
	}
	if start < len(tpl) {
		onLiteral(tpl[start:])
	}
}

func validVariableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			continue
		}
		return false
	}
	return true
}
