// Package render turns sequence step templates into personalised messages
// using the Liquid template language.
package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
	"github.com/osteele/liquid"
)

// Renderer parses each distinct template source once and reuses it.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // source -> *liquid.Template
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | fallback: "there" }} for blank contact fields.
	engine.RegisterFilter("fallback", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := strings.TrimSpace(fmt.Sprintf("%v", value)); s == "" {
			return fallback
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Rendered is the subject and body for one contact and step.
type Rendered struct {
	Subject string
	Body    string
}

// Render fails with domain.ErrDataIntegrity when a template does not parse.
// Unknown variables render as empty strings.
func (r *Renderer) Render(step domain.SequenceStep, contact domain.Contact, sender domain.SenderIdentity) (Rendered, error) {
	bindings := contact.TemplateData()
	bindings["sender_email"] = sender.Email
	bindings["sender_name"] = sender.DisplayName
	bindings["step"] = step.StepNumber

	subject, err := r.renderString(step.SubjectTemplate, bindings)
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: step %d subject: %v", domain.ErrDataIntegrity, step.StepNumber, err)
	}
	body, err := r.renderString(step.BodyTemplate, bindings)
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: step %d body: %v", domain.ErrDataIntegrity, step.StepNumber, err)
	}

	return Rendered{Subject: strings.TrimSpace(subject), Body: body}, nil
}

func (r *Renderer) renderString(source string, bindings map[string]any) (string, error) {
	tpl, err := r.parse(source)
	if err != nil {
		return "", err
	}
	out, err := tpl.RenderString(liquid.Bindings(bindings))
	if err != nil {
		return "", err
	}
	return out, nil
}

func (r *Renderer) parse(source string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	r.cache.Store(source, tpl)
	return tpl, nil
}
