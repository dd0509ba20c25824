package campaign

import (
	"github.com/osteele/liquid"

	"github.com/ignite/outreach/internal/domain"
)

// templates renders per-recipient subject and body with Liquid.
type templates struct {
	engine *liquid.Engine
}

func newTemplates() *templates {
	return &templates{engine: liquid.NewEngine()}
}

// compiled is a parsed subject/body pair shared by every worker in a batch.
type compiled struct {
	subject *liquid.Template
	html    *liquid.Template
}

func (t *templates) compile(subject, html string) (*compiled, error) {
	st, err := t.engine.ParseString(subject)
	if err != nil {
		return nil, domain.Validation("subject template: %v", err)
	}
	ht, err := t.engine.ParseString(html)
	if err != nil {
		return nil, domain.Validation("html template: %v", err)
	}
	return &compiled{subject: st, html: ht}, nil
}

func (t *templates) check(subject, html string) error {
	_, err := t.compile(subject, html)
	return err
}

// render returns the personalized subject and body for one recipient.
func (c *compiled) render(campaignID string, r *domain.Recipient) (string, string, error) {
	vars := liquid.Bindings{
		"email":        r.Email,
		"campaign_id":  campaignID,
		"recipient_id": r.ID,
	}
	subject, err := c.subject.RenderString(vars)
	if err != nil {
		return "", "", err
	}
	html, err := c.html.RenderString(vars)
	if err != nil {
		return "", "", err
	}
	return subject, html, nil
}
