package templates_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/email/templates"
)

func TestLayout(t *testing.T) {
	t.Parallel()

	html, err := templates.Render(context.Background(), templates.Layout("Fatura <Março>",
		templates.Heading("Olá, Ana"),
		templates.Text("Plano Básico & extras"),
		templates.TextWarning("Pagamento recusado"),
		templates.TextSecondary("Agendei"),
	))
	require.NoError(t, err)

	assert.Contains(t, html, "<title>Fatura &lt;Março&gt;</title>")
	assert.Contains(t, html, "Olá, Ana")
	assert.Contains(t, html, "Plano Básico &amp; extras")
	assert.Contains(t, html, "Pagamento recusado")
	assert.Less(t, strings.Index(html, "Olá, Ana"), strings.Index(html, "Agendei"))
	assert.Contains(t, html, "</html>")
}
