package render

import (
	"errors"
	"testing"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
)

func TestRendererRender(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	step := domain.SequenceStep{
		StepNumber:      2,
		SubjectTemplate: "Quick question, {{ first_name | fallback: \"there\" }}",
		BodyTemplate:    "Hi {{ first_name }} at {{ company }}, {{ role }}. - {{ sender_name }}",
	}
	contact := domain.Contact{
		Email:     "ada@example.org",
		FirstName: "Ada",
		Company:   "Analytical Engines",
		Variables: map[string]string{"role": "CTO"},
	}
	sender := domain.SenderIdentity{Email: "sam@example.com", DisplayName: "Sam"}

	got, err := r.Render(step, contact, sender)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Subject != "Quick question, Ada" {
		t.Fatalf("Subject = %q", got.Subject)
	}
	if got.Body != "Hi Ada at Analytical Engines, CTO. - Sam" {
		t.Fatalf("Body = %q", got.Body)
	}
}

func TestRendererFallbackAndMissingVariables(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	step := domain.SequenceStep{
		StepNumber:      1,
		SubjectTemplate: "Hello {{ first_name | fallback: \"there\" }}",
		BodyTemplate:    "[{{ unknown_var }}]",
	}

	got, err := r.Render(step, domain.Contact{Email: "x@example.org"}, domain.SenderIdentity{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Subject != "Hello there" {
		t.Fatalf("Subject = %q, want Hello there", got.Subject)
	}
	if got.Body != "[]" {
		t.Fatalf("Body = %q, want []", got.Body)
	}
}

func TestRendererInvalidTemplateIsDataIntegrityError(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	step := domain.SequenceStep{
		StepNumber:      1,
		SubjectTemplate: "ok",
		BodyTemplate:    "{% if %}",
	}

	_, err := r.Render(step, domain.Contact{}, domain.SenderIdentity{})
	if !errors.Is(err, domain.ErrDataIntegrity) {
		t.Fatalf("Render() error = %v, want ErrDataIntegrity", err)
	}
}
