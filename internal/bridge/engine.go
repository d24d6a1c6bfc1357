package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/config"
	"github.com/adamjs83/creston-xsig-hassio/internal/xsig"
)

// Topic builders for the engine's MQTT traffic. Kept in sync with the
// infrastructure/mqtt Topics helpers; the engine builds its own so it
// only depends on small interfaces.

// entityStatePattern matches every entity state topic.
const entityStatePattern = "xsig/state/+"

// entityStatePrefix strips down to the entity id.
const entityStatePrefix = "xsig/state/"

// mirrorQueueSize is the depth of the retained mirror publish queue.
// A full queue drops the mirror rather than blocking the read path.
const mirrorQueueSize = 256

// ActionTopic returns the invocation topic for an action.
func ActionTopic(domain, service string) string {
	return fmt.Sprintf("xsig/action/%s/%s", domain, service)
}

// JoinStateTopic returns the retained mirror topic for a join.
func JoinStateTopic(kind string, join uint16) string {
	return fmt.Sprintf("xsig/join/%s/%d", kind, join)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return "xsig/health/bridge"
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MessageBus is the MQTT surface the engine needs.
// Satisfied by the infrastructure MQTT client via an adapter in main.
type MessageBus interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// JoinServer is the control processor surface the engine needs.
// Satisfied by *xsig.Server.
type JoinServer interface {
	SetDigital(join uint16, value bool) error
	SetAnalog(join uint16, value int) error
	SetSerial(join uint16, value string) error
	IsAvailable() bool
	Stats() xsig.Stats
	SetOnSyncRequest(func())
	SetOnAvailable(func(bool))
}

// EngineOptions holds configuration for creating an engine.
type EngineOptions struct {
	// Sync is the rule configuration from config.yaml.
	Sync config.SyncConfig

	// Bus is the MQTT message bus.
	Bus MessageBus

	// Server is the control processor link.
	Server JoinServer

	// Dispatcher delivers inbound join transitions.
	Dispatcher *xsig.Dispatcher

	// Logger is optional structured logging.
	Logger Logger
}

// Engine is the two-way template sync between entity state and joins.
//
// Inbound: entity state arrives over MQTT, is cached, and every rule
// sourcing that entity re-evaluates and pushes its join. Outbound:
// join transitions from the dispatcher fire action invocations and a
// retained join mirror message.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	rules  *RuleSet
	cache  *StateCache
	bus    MessageBus
	server JoinServer

	dispatcher *xsig.Dispatcher
	sub        *xsig.Subscription

	// Rule indexes built at compile time.
	rulesByEntity map[string][]*ToJoinRule
	templateRules []*ToJoinRule

	// Retained join mirrors drain through a dedicated goroutine so a
	// slow broker cannot stall wire-order frame processing.
	mirrorQueue chan xsig.Update
	stopCh      chan struct{}

	// Extra work to run on every full synchronisation (LED bindings).
	syncHooks []func()

	// Observers of control processor availability changes.
	availHooks []func(bool)

	hooksMu sync.RWMutex

	stopOnce sync.Once

	// Logger (optional).
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics.
	actionsTotal  atomic.Uint64
	mirrorsTotal  atomic.Uint64
	syncAllsTotal atomic.Uint64
}

// NewEngine compiles the sync rules and creates an engine.
// Call Start() to begin operation.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("message bus is required")
	}
	if opts.Server == nil {
		return nil, fmt.Errorf("join server is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	cache := NewStateCache()
	rules := CompileRules(opts.Sync, cache.FuncMap(), opts.Logger)

	e := &Engine{
		rules:         rules,
		cache:         cache,
		bus:           opts.Bus,
		server:        opts.Server,
		dispatcher:    opts.Dispatcher,
		rulesByEntity: make(map[string][]*ToJoinRule),
		mirrorQueue:   make(chan xsig.Update, mirrorQueueSize),
		stopCh:        make(chan struct{}),
		logger:        opts.Logger,
	}

	// Entity-sourced rules re-evaluate when their entity changes.
	// Template rules may reference any entity through states(), so
	// they re-evaluate on every state change.
	for _, rule := range rules.ToJoins {
		if rule.EntityID != "" {
			e.rulesByEntity[rule.EntityID] = append(e.rulesByEntity[rule.EntityID], rule)
		} else {
			e.templateRules = append(e.templateRules, rule)
		}
	}

	return e, nil
}

// Cache returns the entity state cache (shared with LED bindings).
func (e *Engine) Cache() *StateCache {
	return e.cache
}

// Start subscribes to entity state topics and join transitions, and
// hooks the control processor's sync-all and availability events.
// Call before the join server starts listening.
func (e *Engine) Start() error {
	if err := e.bus.Subscribe(entityStatePattern, 1, e.handleEntityState); err != nil {
		return fmt.Errorf("subscribe entity states: %w", err)
	}

	e.sub = e.dispatcher.Subscribe(e.handleJoinUpdate)

	e.server.SetOnSyncRequest(e.SyncAll)
	e.server.SetOnAvailable(func(available bool) {
		if available {
			// A fresh session starts with nothing: replay every rule.
			e.SyncAll()
		}
		e.logInfo("control processor availability changed", "available", available)

		e.hooksMu.RLock()
		hooks := e.availHooks
		e.hooksMu.RUnlock()
		for _, hook := range hooks {
			hook(available)
		}
	})

	go e.mirrorLoop()

	e.logInfo("sync engine started",
		"to_join_rules", len(e.rules.ToJoins),
		"from_join_rules", len(e.rules.FromJoins))
	return nil
}

// Stop detaches the engine from the dispatcher and stops the mirror
// publisher.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.sub != nil {
			e.sub.Cancel()
		}
		close(e.stopCh)
	})
}

// mirrorLoop drains queued join mirrors onto the bus.
func (e *Engine) mirrorLoop() {
	for {
		select {
		case <-e.stopCh:
			return
		case u := <-e.mirrorQueue:
			e.publishMirror(u)
		}
	}
}

// statePayload is the expected shape of entity state messages.
type statePayload struct {
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// parseStatePayload decodes one entity state message.
//
// Returns:
//   - EntityState: the decoded state
//   - error: ErrInvalidStatePayload when the JSON is malformed or the
//     state field is missing
func parseStatePayload(payload []byte) (EntityState, error) {
	var msg statePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return EntityState{}, fmt.Errorf("%w: %w", ErrInvalidStatePayload, err)
	}
	if msg.State == nil {
		return EntityState{}, fmt.Errorf("%w: missing state field", ErrInvalidStatePayload)
	}

	state, ok := msg.State.(string)
	if !ok {
		state = fmt.Sprint(msg.State)
	}
	return EntityState{State: state, Attributes: msg.Attributes}, nil
}

// handleEntityState caches an entity state update and re-evaluates the
// rules that source it.
func (e *Engine) handleEntityState(topic string, payload []byte) {
	entityID := strings.TrimPrefix(topic, entityStatePrefix)
	if entityID == "" || entityID == topic {
		e.logWarn("entity state on unexpected topic", "topic", topic)
		return
	}

	state, err := parseStatePayload(payload)
	if err != nil {
		e.logWarn("dropped entity state", "entity_id", entityID, "error", err.Error())
		return
	}
	e.cache.Set(entityID, state)

	for _, rule := range e.rulesByEntity[entityID] {
		e.evaluateRule(rule)
	}
	for _, rule := range e.templateRules {
		e.evaluateRule(rule)
	}
}

// SyncAll re-evaluates every to-join rule.
//
// Invoked on the processor's sync-all request and on reconnect. Rules
// whose source renders empty or unknown are skipped so entities that
// have never reported state don't push zeros at the processor.
func (e *Engine) SyncAll() {
	e.syncAllsTotal.Add(1)
	e.logInfo("synchronising all joins", "rules", len(e.rules.ToJoins))

	for _, rule := range e.rules.ToJoins {
		e.evaluateRule(rule)
	}

	e.hooksMu.RLock()
	hooks := e.syncHooks
	e.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook()
	}
}

// AddSyncHook registers extra work to run whenever all joins are
// resynchronised. Register before Start.
func (e *Engine) AddSyncHook(hook func()) {
	e.hooksMu.Lock()
	e.syncHooks = append(e.syncHooks, hook)
	e.hooksMu.Unlock()
}

// AddAvailabilityHook registers an observer of control processor
// availability changes. Register before Start.
func (e *Engine) AddAvailabilityHook(hook func(available bool)) {
	e.hooksMu.Lock()
	e.availHooks = append(e.availHooks, hook)
	e.hooksMu.Unlock()
}

// evaluateRule renders a rule's source, coerces it to the join kind
// and pushes the value to the processor.
func (e *Engine) evaluateRule(rule *ToJoinRule) {
	rendered, err := e.renderSource(rule)
	if err != nil {
		e.logWarn("to-join rule render failed",
			"join", rule.Ref.String(), "error", err.Error())
		return
	}
	if skippable(rendered) {
		e.logDebug("to-join rule skipped, no usable source value",
			"join", rule.Ref.String(), "rendered", rendered)
		return
	}
	if !e.server.IsAvailable() {
		e.logDebug("to-join push skipped, no control processor",
			"join", rule.Ref.String())
		return
	}

	switch rule.Ref.Kind {
	case xsig.JoinDigital:
		v, err := coerceDigital(rendered)
		if err != nil {
			e.logWarn("to-join coercion failed", "join", rule.Ref.String(), "error", err.Error())
			return
		}
		err = e.server.SetDigital(rule.Ref.Join, v)
		e.logPushResult(rule, err)
	case xsig.JoinAnalog:
		v, err := coerceAnalog(rendered)
		if err != nil {
			e.logWarn("to-join coercion failed", "join", rule.Ref.String(), "error", err.Error())
			return
		}
		err = e.server.SetAnalog(rule.Ref.Join, v)
		e.logPushResult(rule, err)
	case xsig.JoinSerial:
		err = e.server.SetSerial(rule.Ref.Join, rendered)
		e.logPushResult(rule, err)
	}
}

func (e *Engine) logPushResult(rule *ToJoinRule, err error) {
	if err != nil {
		e.logWarn("to-join push failed", "join", rule.Ref.String(), "error", err.Error())
	}
}

// renderSource produces the string value for a to-join rule.
func (e *Engine) renderSource(rule *ToJoinRule) (string, error) {
	if rule.tmpl != nil {
		var buf bytes.Buffer
		if err := rule.tmpl.Execute(&buf, nil); err != nil {
			return "", err
		}
		return strings.TrimSpace(buf.String()), nil
	}

	if rule.Attribute != "" {
		attr := e.cache.StateAttr(rule.EntityID, rule.Attribute)
		if attr == nil {
			return "", nil
		}
		return strings.TrimSpace(fmt.Sprint(attr)), nil
	}

	return e.cache.States(rule.EntityID), nil
}

// handleJoinUpdate reacts to an inbound join transition: mirror the
// value to MQTT and fire any from-join rule.
//
// Runs on the dispatcher's read path, so nothing here may block: the
// mirror is queued for the publisher goroutine and actions go out in
// their own goroutine.
func (e *Engine) handleJoinUpdate(u xsig.Update) {
	select {
	case e.mirrorQueue <- u:
	default:
		e.logDebug("join mirror dropped, queue full",
			"kind", u.Kind.String(), "join", u.Join)
	}

	rule, ok := e.rules.FromJoins[JoinRef{Kind: u.Kind, Join: u.Join}]
	if !ok {
		return
	}

	// A digital false is the release edge of a momentary press;
	// reacting to it would double-fire every button.
	if u.Kind == xsig.JoinDigital && !u.Digital {
		e.logDebug("ignored digital release", "join", rule.Ref.String())
		return
	}

	data, err := e.renderActionData(rule, u)
	if err != nil {
		e.logWarn("from-join data render failed",
			"join", rule.Ref.String(), "error", err.Error())
		return
	}

	msg := NewActionMessage(rule, data)

	// Fire and forget: a slow broker must not stall the read path,
	// and failures never touch the store or the session.
	go e.publishAction(msg)
}

// renderActionData renders a from-join rule's data templates with the
// join value bound.
func (e *Engine) renderActionData(rule *FromJoinRule, u xsig.Update) (map[string]string, error) {
	if len(rule.Data) == 0 {
		return nil, nil
	}

	ctx := renderContext{Value: joinValueString(u)}
	data := make(map[string]string, len(rule.Data))
	for key, tmpl := range rule.Data {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, ctx); err != nil {
			return nil, fmt.Errorf("data %q: %w", key, err)
		}
		data[key] = buf.String()
	}
	return data, nil
}

// publishAction publishes an action invocation.
func (e *Engine) publishAction(msg ActionMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		e.logError("marshal action message", err)
		return
	}

	topic := ActionTopic(msg.Domain, msg.Service)
	if err := e.bus.Publish(topic, payload, 1, false); err != nil {
		e.logWarn("action publish failed",
			"topic", topic, "action_id", msg.ID, "error", err.Error())
		return
	}

	e.actionsTotal.Add(1)
	e.logDebug("action published", "topic", topic, "action_id", msg.ID, "join", msg.Join)
}

// publishMirror publishes the retained join mirror message.
func (e *Engine) publishMirror(u xsig.Update) {
	msg := NewJoinStateMessage(u)
	payload, err := json.Marshal(msg)
	if err != nil {
		e.logError("marshal join mirror", err)
		return
	}

	topic := JoinStateTopic(msg.Kind, msg.Join)
	if err := e.bus.Publish(topic, payload, 1, true); err != nil {
		e.logDebug("join mirror publish failed", "topic", topic, "error", err.Error())
		return
	}
	e.mirrorsTotal.Add(1)
}

// EngineMetrics holds engine counters for the API.
type EngineMetrics struct {
	ActionsPublished uint64 `json:"actions_published"`
	MirrorsPublished uint64 `json:"mirrors_published"`
	SyncAllsTotal    uint64 `json:"sync_alls_total"`
	EntitiesCached   int    `json:"entities_cached"`
	ToJoinRules      int    `json:"to_join_rules"`
	FromJoinRules    int    `json:"from_join_rules"`
}

// Metrics returns a snapshot of engine counters.
func (e *Engine) Metrics() EngineMetrics {
	return EngineMetrics{
		ActionsPublished: e.actionsTotal.Load(),
		MirrorsPublished: e.mirrorsTotal.Load(),
		SyncAllsTotal:    e.syncAllsTotal.Load(),
		EntitiesCached:   e.cache.Len(),
		ToJoinRules:      len(e.rules.ToJoins),
		FromJoinRules:    len(e.rules.FromJoins),
	}
}

// Logging helpers (nil-safe).

func (e *Engine) getLogger() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if l := e.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if l := e.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (e *Engine) logWarn(msg string, keysAndValues ...any) {
	if l := e.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (e *Engine) logError(msg string, err error) {
	if l := e.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}
