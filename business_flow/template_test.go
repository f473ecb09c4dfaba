package businessflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/utils"
)

func TestRender(t *testing.T) {
	lead := &models.Lead{
		Name:    utils.ToPtr("Maria"),
		Phone:   utils.ToPtr("5511999990000"),
		Answers: models.LeadAnswers{"cidade": "Recife", "nome": "Mari"},
	}

	tests := []struct {
		name       string
		tpl        string
		want       string
		unresolved []string
	}{
		{"plain text", "Olá!", "Olá!", nil},
		{"alias", "Oi {{name}}", "Oi Maria", nil},
		{"answer wins over alias", "Oi {{nome}}", "Oi Mari", nil},
		{"answer field", "Em {{ cidade }}", "Em Recife", nil},
		{"single brace", "Tel {telefone}", "Tel 5511999990000", nil},
		{"missing email stays verbatim", "Mail {{email}}", "Mail {{email}}", []string{"email"}},
		{"unknown variable", "{{plano}} ok", "{{plano}} ok", []string{"plano"}},
		{"unterminated", "Oi {{name", "Oi {{name", nil},
		{"not a variable", "a {b c} d", "a {b c} d", nil},
		{"empty braces", "{{}}", "{{}}", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Render(tt.tpl, lead)
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, tt.unresolved, res.Unresolved)
			assert.Equal(t, tt.want, RenderTemplate(tt.tpl, lead))
		})
	}
}

func TestRender_ContactAliases(t *testing.T) {
	lead := &models.Lead{Name: utils.ToPtr("Ana"), Email: utils.ToPtr("a@x.com")}

	res := Render("Oi {{nome}}, seu email é {{email}}", lead)
	assert.Equal(t, "Oi Ana, seu email é a@x.com", res.Text)
	assert.Empty(t, res.Unresolved)
}

func TestRender_NilLeadLeavesPlaceholders(t *testing.T) {
	res := Render("Oi {{nome}}", nil)
	assert.Equal(t, "Oi {{nome}}", res.Text)
	assert.Equal(t, []string{"nome"}, res.Unresolved)
}

func TestRenderResult_LengthCountsCharacters(t *testing.T) {
	assert.Equal(t, 4, RenderResult{Text: "ação"}.Length())
}

func TestInspectTemplate(t *testing.T) {
	info := InspectTemplate("Oi {{nome}}, de {cidade}? {{nome}} {{ email }}")
	assert.Equal(t, []string{"nome", "cidade", "email"}, info.Variables)
	assert.Equal(t, 46, info.RawLength)

	assert.Empty(t, InspectTemplate("sem variáveis").Variables)
}
