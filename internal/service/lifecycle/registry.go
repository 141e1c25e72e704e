package lifecycle

import (
	"fmt"
	"time"

	"github.com/osteele/liquid"

	"github.com/jmehdipour/label-dispatch/internal/config"
	"github.com/jmehdipour/label-dispatch/internal/model"
)

// Definition is the dispatch policy and templates for one email type.
type Definition struct {
	Type          model.EmailType
	Policy        model.DispatchPolicy
	Cooldown      time.Duration
	Transactional bool
	Subject       string
	HTML          string
	Text          string
}

const footerHTML = `{% if unsubscribe_url %}<p style="font-size:12px;color:#888"><a href="{{ unsubscribe_url | escape }}">Unsubscribe</a></p>{% endif %}`
const footerText = "{% if unsubscribe_url %}\n\nUnsubscribe: {{ unsubscribe_url }}{% endif %}"

func builtins() []Definition {
	return []Definition{
		{
			Type: model.EmailWelcome, Policy: model.PolicyOnce,
			Subject: `Welcome to Label Dispatch, {{ user.artist_name | default: "there" }}`,
			HTML:    `<p>Hi {{ user.artist_name | default: "there" | escape }},</p><p>Your account is ready. Build your press kit and start pitching labels that fit your sound.</p>` + footerHTML,
			Text:    "Hi {{ user.artist_name | default: \"there\" }},\n\nYour account is ready. Build your press kit and start pitching labels that fit your sound." + footerText,
		},
		{
			Type: model.EmailEPKGuide, Policy: model.PolicyOnce,
			Subject: `How to build an EPK labels actually read`,
			HTML:    `<p>Hi {{ user.artist_name | escape }},</p><p>A short bio, two strong tracks and a clear contact line beat a long document every time.</p>` + footerHTML,
			Text:    "Hi {{ user.artist_name }},\n\nA short bio, two strong tracks and a clear contact line beat a long document every time." + footerText,
		},
		{
			Type: model.EmailUpgrade7Day, Policy: model.PolicyOnce,
			Subject: `You've been pitching for a week`,
			HTML:    `<p>Hi {{ user.artist_name | escape }},</p><p>Upgrade to raise your monthly submission limit.</p>` + footerHTML,
			Text:    "Hi {{ user.artist_name }},\n\nUpgrade to raise your monthly submission limit." + footerText,
		},
		{
			Type: model.EmailWinback, Policy: model.PolicyOnce,
			Subject: `We kept your press kit warm`,
			HTML:    `<p>Hi {{ user.artist_name | escape }},</p><p>Your profile and pitches are still here whenever you want to pick things back up.</p>` + footerHTML,
			Text:    "Hi {{ user.artist_name }},\n\nYour profile and pitches are still here whenever you want to pick things back up." + footerText,
		},
		{
			Type: model.EmailProfileReminder, Policy: model.PolicyCooldown, Cooldown: 72 * time.Hour,
			Subject: `Finish your artist profile`,
			HTML:    `<p>Hi {{ user.artist_name | escape }},</p><p>Add your genres and a short style description so we can match you with the right labels.</p>` + footerHTML,
			Text:    "Hi {{ user.artist_name }},\n\nAdd your genres and a short style description so we can match you with the right labels." + footerText,
		},
		{
			Type: model.EmailReengagement, Policy: model.PolicyCooldown, Cooldown: 14 * 24 * time.Hour,
			Subject: `New labels are looking for {{ user.genres | first | default: "new" }} music`,
			HTML:    `<p>Hi {{ user.artist_name | escape }},</p><p>There are new labels matching your profile. Take a look at your recommendations.</p>` + footerHTML,
			Text:    "Hi {{ user.artist_name }},\n\nThere are new labels matching your profile. Take a look at your recommendations." + footerText,
		},
		{
			Type: model.EmailWeeklyDigest, Policy: model.PolicyCooldown, Cooldown: 7 * 24 * time.Hour,
			Subject: `Your week: {{ payload.sent | default: 0 }} submissions sent`,
			HTML:    `<p>Hi {{ user.artist_name | escape }},</p><p>This week you sent {{ payload.sent | default: 0 }} submissions{% if payload.failed %} and {{ payload.failed }} failed{% endif %}.</p>` + footerHTML,
			Text:    "Hi {{ user.artist_name }},\n\nThis week you sent {{ payload.sent | default: 0 }} submissions{% if payload.failed %} and {{ payload.failed }} failed{% endif %}." + footerText,
		},
		{
			Type: model.EmailPaymentFailed, Policy: model.PolicyCooldown, Cooldown: 24 * time.Hour, Transactional: true,
			Subject: `Action needed: your payment failed`,
			HTML:    `<p>Hi {{ user.artist_name | escape }},</p><p>We couldn't process your last payment{% if payload.amount %} of {{ payload.amount | escape }}{% endif %}. Please update your billing details to keep your plan.</p>`,
			Text:    "Hi {{ user.artist_name }},\n\nWe couldn't process your last payment{% if payload.amount %} of {{ payload.amount }}{% endif %}. Please update your billing details to keep your plan.",
		},
	}
}

type compiled struct {
	def     Definition
	subject *liquid.Template
	html    *liquid.Template
	text    *liquid.Template
}

type Registry struct {
	defs map[model.EmailType]*compiled
}

// NewRegistry compiles the built-in types with config overrides applied.
// An override for an unknown type adds it, provided it carries a subject and
// at least one body.
func NewRegistry(overrides map[string]config.EmailTypeConfig) (*Registry, error) {
	defs := make(map[model.EmailType]Definition)
	for _, d := range builtins() {
		defs[d.Type] = d
	}

	for name, o := range overrides {
		t := model.EmailType(name)
		d, known := defs[t]
		if !known {
			if o.Subject == "" || (o.HTML == "" && o.Text == "") {
				return nil, fmt.Errorf("lifecycle: new type %q needs subject and body", name)
			}
			d = Definition{Type: t, Policy: model.PolicyOnce}
		}
		if o.Policy != "" {
			d.Policy = model.DispatchPolicy(o.Policy)
		}
		if o.Cooldown > 0 {
			d.Cooldown = o.Cooldown
		}
		if o.Transactional != nil {
			d.Transactional = *o.Transactional
		}
		if o.Subject != "" {
			d.Subject = o.Subject
		}
		if o.HTML != "" {
			d.HTML = o.HTML
		}
		if o.Text != "" {
			d.Text = o.Text
		}
		defs[t] = d
	}

	engine := liquid.NewEngine()
	r := &Registry{defs: make(map[model.EmailType]*compiled, len(defs))}
	for t, d := range defs {
		if d.Policy == model.PolicyCooldown && d.Cooldown <= 0 {
			return nil, fmt.Errorf("lifecycle: %s uses cooldown policy without a cooldown", t)
		}
		c, err := compile(engine, d)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: %s: %w", t, err)
		}
		r.defs[t] = c
	}
	return r, nil
}

func (r *Registry) Lookup(t model.EmailType) (Definition, bool) {
	c, ok := r.defs[t]
	if !ok {
		return Definition{}, false
	}
	return c.def, true
}
