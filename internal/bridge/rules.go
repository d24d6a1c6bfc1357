package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/config"
	"github.com/adamjs83/creston-xsig-hassio/internal/xsig"
)

// JoinRef identifies one join in config shorthand: "d1" is digital
// join 1, "a2" analog join 2, "s3" serial join 3.
type JoinRef struct {
	Kind xsig.JoinKind
	Join uint16
}

// ParseJoinRef parses the "d1"/"a2"/"s3" shorthand.
func ParseJoinRef(s string) (JoinRef, error) {
	if len(s) < 2 {
		return JoinRef{}, fmt.Errorf("%w: %q", ErrInvalidJoinRef, s)
	}

	var kind xsig.JoinKind
	var limit uint16
	switch s[0] {
	case 'd':
		kind, limit = xsig.JoinDigital, xsig.MaxDigitalJoin
	case 'a':
		kind, limit = xsig.JoinAnalog, xsig.MaxAnalogJoin
	case 's':
		kind, limit = xsig.JoinSerial, xsig.MaxSerialJoin
	default:
		return JoinRef{}, fmt.Errorf("%w: %q (kind must be d, a or s)", ErrInvalidJoinRef, s)
	}

	n, err := strconv.ParseUint(s[1:], 10, 16)
	if err != nil || n < 1 {
		return JoinRef{}, fmt.Errorf("%w: %q (join must be a positive number)", ErrInvalidJoinRef, s)
	}
	if uint16(n) > limit {
		return JoinRef{}, fmt.Errorf("%w: %q (join %d over %s limit %d)",
			ErrInvalidJoinRef, s, n, kind.String(), limit)
	}

	return JoinRef{Kind: kind, Join: uint16(n)}, nil
}

// String returns the config shorthand form.
func (r JoinRef) String() string {
	prefix := "?"
	switch r.Kind {
	case xsig.JoinDigital:
		prefix = "d"
	case xsig.JoinAnalog:
		prefix = "a"
	case xsig.JoinSerial:
		prefix = "s"
	}
	return fmt.Sprintf("%s%d", prefix, r.Join)
}

// ToJoinRule pushes a home-automation value to a join.
//
// Exactly one source form is valid:
//   - EntityID (push the entity's state)
//   - EntityID + Attribute (push one attribute)
//   - ValueTemplate (push a rendered template)
type ToJoinRule struct {
	Ref       JoinRef
	EntityID  string
	Attribute string

	// tmpl is non-nil for the template form.
	tmpl *template.Template
}

// FromJoinRule reacts to a join transition with an action invocation.
type FromJoinRule struct {
	Ref     JoinRef
	Domain  string
	Service string

	// Data templates are rendered with the join value bound as {{.Value}}.
	Data map[string]*template.Template
}

// CompileToJoinRule validates and compiles one to-join rule.
// funcs supplies the states/state_attr template functions.
func CompileToJoinRule(cfg config.ToJoinConfig, funcs template.FuncMap) (*ToJoinRule, error) {
	ref, err := ParseJoinRef(cfg.Join)
	if err != nil {
		return nil, err
	}

	hasEntity := cfg.EntityID != ""
	hasTemplate := cfg.ValueTemplate != ""

	switch {
	case hasEntity && hasTemplate:
		return nil, fmt.Errorf("%w: %s has both entity_id and value_template", ErrInvalidRule, ref)
	case !hasEntity && !hasTemplate:
		return nil, fmt.Errorf("%w: %s needs entity_id or value_template", ErrInvalidRule, ref)
	case cfg.Attribute != "" && !hasEntity:
		return nil, fmt.Errorf("%w: %s has attribute without entity_id", ErrInvalidRule, ref)
	}

	rule := &ToJoinRule{
		Ref:       ref,
		EntityID:  cfg.EntityID,
		Attribute: cfg.Attribute,
	}

	if hasTemplate {
		tmpl, err := template.New(ref.String()).Funcs(funcs).Parse(cfg.ValueTemplate)
		if err != nil {
			return nil, fmt.Errorf("%w: %s value_template: %w", ErrInvalidRule, ref, err)
		}
		rule.tmpl = tmpl
	}

	return rule, nil
}

// CompileFromJoinRule validates and compiles one from-join rule.
func CompileFromJoinRule(cfg config.FromJoinConfig, funcs template.FuncMap) (*FromJoinRule, error) {
	ref, err := ParseJoinRef(cfg.Join)
	if err != nil {
		return nil, err
	}

	domain, service, ok := strings.Cut(cfg.Service, ".")
	if !ok || domain == "" || service == "" {
		return nil, fmt.Errorf("%w: %s service %q (want \"domain.service\")", ErrInvalidRule, ref, cfg.Service)
	}

	rule := &FromJoinRule{
		Ref:     ref,
		Domain:  domain,
		Service: service,
		Data:    make(map[string]*template.Template, len(cfg.Data)),
	}

	for key, raw := range cfg.Data {
		tmpl, err := template.New(ref.String() + "." + key).Funcs(funcs).Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s data %q: %w", ErrInvalidRule, ref, key, err)
		}
		rule.Data[key] = tmpl
	}

	return rule, nil
}

// RuleSet holds the compiled sync rules keyed by join.
type RuleSet struct {
	ToJoins   map[JoinRef]*ToJoinRule
	FromJoins map[JoinRef]*FromJoinRule
}

// CompileRules compiles the sync configuration.
//
// A malformed rule is rejected individually: it is skipped with a
// warn log and the remaining rules stay in force. A join appearing
// twice on the same side is a configuration conflict: the last rule
// wins and the collision is logged at warn.
func CompileRules(cfg config.SyncConfig, funcs template.FuncMap, logger Logger) *RuleSet {
	rs := &RuleSet{
		ToJoins:   make(map[JoinRef]*ToJoinRule, len(cfg.ToJoins)),
		FromJoins: make(map[JoinRef]*FromJoinRule, len(cfg.FromJoins)),
	}

	for _, rc := range cfg.ToJoins {
		rule, err := CompileToJoinRule(rc, funcs)
		if err != nil {
			if logger != nil {
				logger.Warn("rejecting to-join rule", "join", rc.Join, "error", err)
			}
			continue
		}
		if _, exists := rs.ToJoins[rule.Ref]; exists && logger != nil {
			logger.Warn("duplicate to-join rule, last one wins", "join", rule.Ref.String())
		}
		rs.ToJoins[rule.Ref] = rule
	}

	for _, rc := range cfg.FromJoins {
		rule, err := CompileFromJoinRule(rc, funcs)
		if err != nil {
			if logger != nil {
				logger.Warn("rejecting from-join rule", "join", rc.Join, "error", err)
			}
			continue
		}
		if _, exists := rs.FromJoins[rule.Ref]; exists && logger != nil {
			logger.Warn("duplicate from-join rule, last one wins", "join", rule.Ref.String())
		}
		rs.FromJoins[rule.Ref] = rule
	}

	return rs
}
