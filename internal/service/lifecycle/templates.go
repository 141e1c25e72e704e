package lifecycle

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"
)

type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

func compile(engine *liquid.Engine, d Definition) (*compiled, error) {
	c := &compiled{def: d}
	var err error
	if c.subject, err = parse(engine, d.Subject); err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	if c.html, err = parse(engine, d.HTML); err != nil {
		return nil, fmt.Errorf("html: %w", err)
	}
	if c.text, err = parse(engine, d.Text); err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}
	return c, nil
}

func parse(engine *liquid.Engine, src string) (*liquid.Template, error) {
	if src == "" {
		return nil, nil
	}
	tpl, err := engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

func (c *compiled) render(bindings liquid.Bindings) (Rendered, error) {
	var out Rendered
	var err error
	if out.Subject, err = renderOne(c.subject, bindings); err != nil {
		return Rendered{}, fmt.Errorf("render subject: %w", err)
	}
	if out.HTML, err = renderOne(c.html, bindings); err != nil {
		return Rendered{}, fmt.Errorf("render html: %w", err)
	}
	if out.Text, err = renderOne(c.text, bindings); err != nil {
		return Rendered{}, fmt.Errorf("render text: %w", err)
	}
	out.Subject = strings.TrimSpace(out.Subject)
	return out, nil
}

func renderOne(tpl *liquid.Template, bindings liquid.Bindings) (string, error) {
	if tpl == nil {
		return "", nil
	}
	s, err := tpl.RenderString(bindings)
	if err != nil {
		return "", err
	}
	return s, nil
}
