package routing

import (
	"fmt"
	"regexp"
	"strings"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

// Handler names the default rule set routes to. The registry decides what
// actually backs each name.
const (
	HandlerClassifier = "classifier"
	HandlerRefund     = "refund"
	HandlerShipping   = "shipping"
	HandlerTech       = "tech"
	HandlerOversight  = "oversight"
	HandlerNotify     = "notify"
	HandlerFallback   = "tech"
)

type Config struct {
	EscalationThreshold float64 `envconfig:"ESCALATION_THRESHOLD" split_words:"true" default:"7.0"`
	DefaultHandler      string  `envconfig:"DEFAULT_HANDLER" split_words:"true" default:"tech"`
}

// Rule is one keyword/regex routing rule. Rules are evaluated in
// registration order; the earliest match wins.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Target  string
}

// Policy is a pure, deterministic decision function: identical message and
// session context always produce the identical decision.
type Policy struct {
	cfg         Config
	rules       []Rule
	intentTable map[string]string
	baseWeights map[string]float64
}

func NewPolicy(cfg Config) *Policy {
	if strings.TrimSpace(cfg.DefaultHandler) == "" {
		cfg.DefaultHandler = HandlerFallback
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 7.0
	}

	p := &Policy{
		cfg:         cfg,
		intentTable: defaultIntentTable(),
		baseWeights: defaultBaseWeights(),
	}
	for _, r := range defaultRules() {
		p.rules = append(p.rules, r)
	}
	return p
}

// AddRule appends a keyword rule. Later additions lose ties against earlier
// ones, matching registration order. Not safe to call concurrently with
// Select: rules are added while wiring, before dispatch starts.
func (p *Policy) AddRule(name, pattern, target string) error {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("%w: rule %s: %v", contractx.ErrValidation, name, err)
	}
	p.rules = append(p.rules, Rule{Name: name, Pattern: re, Target: target})
	return nil
}

// Select resolves the target for a message whose receiver is unset.
// Resolution order: escalation override, keyword rules in registration
// order, intent table, default handler.
func (p *Policy) Select(msg contractx.Message, session *contractx.SessionMemory) contractx.RoutingDecision {
	intent := strings.ToLower(strings.TrimSpace(msg.StringField(contractx.KeyIntent)))
	sentiment, _ := msg.FloatField(contractx.KeySentiment)
	confidence, _ := msg.FloatField(contractx.KeyConfidence)

	priority := p.Score(intent, sentiment, session)
	escalate := priority > p.cfg.EscalationThreshold

	decision := contractx.RoutingDecision{
		Confidence: confidence,
		Priority:   priority,
		Escalate:   escalate,
	}

	if escalate {
		decision.Target = HandlerOversight
		decision.Rule = "escalation_threshold"
		return decision
	}

	text := strings.ToLower(msg.Text())
	for _, r := range p.rules {
		if r.Pattern.MatchString(text) {
			decision.Target = r.Target
			decision.Rule = r.Name
			return decision
		}
	}

	if target, ok := p.intentTable[intent]; ok {
		decision.Target = target
		decision.Rule = "intent:" + intent
		return decision
	}

	decision.Target = p.cfg.DefaultHandler
	decision.Rule = "default"
	return decision
}

// Score combines the intent base weight with a sentiment-derived urgency on
// a 0-10 scale. Negative sentiment adds up to 4 points; a falling trend in
// the session history adds one more.
func (p *Policy) Score(intent string, sentiment float64, session *contractx.SessionMemory) float64 {
	base, ok := p.baseWeights[intent]
	if !ok {
		base = 2.0
	}

	urgency := 0.0
	if sentiment < 0 {
		urgency = -sentiment * 4.0
		if urgency > 4.0 {
			urgency = 4.0
		}
	}

	trend := 0.0
	if session != nil && len(session.Sentiments) >= 2 {
		last := session.Sentiments[len(session.Sentiments)-1]
		prev := session.Sentiments[len(session.Sentiments)-2]
		if last < prev && last < 0 {
			trend = 1.0
		}
	}

	score := base + urgency + trend
	if score > 10 {
		score = 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (p *Policy) Threshold() float64 { return p.cfg.EscalationThreshold }

func defaultRules() []Rule {
	mk := func(name, pattern, target string) Rule {
		return Rule{Name: name, Pattern: regexp.MustCompile("(?i)" + pattern), Target: target}
	}
	return []Rule{
		mk("kw_refund", `\brefund(s|ed)?\b|\bmoney back\b|\breturn(s|ed|ing)?\b`, HandlerRefund),
		mk("kw_shipping", `\bshipping\b|\bdelivery\b|\btrack(ing)?\b|\bnot received\b`, HandlerShipping),
		mk("kw_tech", `\btechnical\b|\berror\b|\bbug\b|\bbroken\b|\bnot working\b`, HandlerTech),
	}
}

func defaultIntentTable() map[string]string {
	return map[string]string{
		"refund_request":    HandlerRefund,
		"cancellation":      HandlerRefund,
		"shipping_inquiry":  HandlerShipping,
		"check_order":       HandlerShipping,
		"technical_support": HandlerTech,
		"report_issue":      HandlerTech,
		"complaint":         HandlerTech,
		"general_query":     HandlerTech,
		"escalate":          HandlerOversight,
		"approval":          HandlerOversight,
	}
}

func defaultBaseWeights() map[string]float64 {
	return map[string]float64{
		"complaint":         6.0,
		"refund_request":    5.0,
		"cancellation":      5.0,
		"shipping_inquiry":  4.0,
		"technical_support": 4.0,
		"report_issue":      4.0,
		"check_order":       3.0,
		"general_query":     2.0,
	}
}
