package engine

import (
	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/model"
)

// resolveContent collapses a step's inline fields and optional template
// into one snapshot. Template fields win field-by-field when non-empty.
// This runs exactly once, when an execution is created; the snapshot is
// never re-resolved afterwards.
func resolveContent(step model.Step, tpl *model.Template) model.ContentSnapshot {
	c := model.ContentSnapshot{
		ServiceName: step.ServiceName,
		Subject:     step.Subject,
		SenderName:  step.SenderName,
		SenderEmail: step.SenderEmail,
		HTMLBody:    step.Body,
	}
	if tpl == nil {
		return c
	}
	if tpl.ServiceName != "" {
		c.ServiceName = tpl.ServiceName
	}
	if tpl.Subject != "" {
		c.Subject = tpl.Subject
	}
	if tpl.SenderName != "" {
		c.SenderName = tpl.SenderName
	}
	if tpl.SenderEmail != "" {
		c.SenderEmail = tpl.SenderEmail
	}
	if tpl.HTMLBody != "" {
		c.HTMLBody = tpl.HTMLBody
	}
	return c
}

func validateContent(c model.ContentSnapshot, stepIndex int) error {
	switch {
	case c.Subject == "":
		return apperr.Validation("step %d resolves to an empty subject", stepIndex)
	case c.SenderEmail == "":
		return apperr.Validation("step %d resolves to an empty sender email", stepIndex)
	case c.HTMLBody == "":
		return apperr.Validation("step %d resolves to an empty body", stepIndex)
	}
	return nil
}

// conditionPasses gates creation of the next step's execution. Only
// "always" has semantics; the remaining declared conditions are extension
// points and conservatively never pass.
func conditionPasses(cond model.StepCondition) bool {
	return cond == "" || cond == model.CondAlways
}
