package mqtt

import "fmt"

// Topic prefixes for the XSIG bridge MQTT namespace.
//
// All topics use the flat scheme: xsig/{category}/{...}
// State flows in from the home-automation side, actions flow out,
// and join values are mirrored for observers.
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "xsig"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "xsig/system"
)

// Topics provides builders for XSIG bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.EntityState("light.kitchen")
//	// Returns: "xsig/state/light.kitchen"
type Topics struct{}

// =============================================================================
// Entity State Topics (inbound)
// =============================================================================

// EntityState returns the topic carrying state updates for a single entity.
//
// Example: xsig/state/light.kitchen
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, entityID)
}

// AllEntityStates returns a pattern matching all entity state updates.
//
// Pattern: xsig/state/+
func (Topics) AllEntityStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// =============================================================================
// Action Topics (outbound)
// =============================================================================

// Action returns the topic for invoking a home-automation action.
//
// Example: xsig/action/light/turn_on
func (Topics) Action(domain, service string) string {
	return fmt.Sprintf("%s/action/%s/%s", TopicPrefix, domain, service)
}

// AllActions returns a pattern matching all action invocations.
//
// Pattern: xsig/action/+/+
func (Topics) AllActions() string {
	return fmt.Sprintf("%s/action/+/+", TopicPrefix)
}

// =============================================================================
// Join Mirror Topics (outbound, retained)
// =============================================================================

// JoinState returns the topic mirroring a join's current value.
// Kind is one of "digital", "analog" or "serial".
//
// Example: xsig/join/digital/14
func (Topics) JoinState(kind string, join uint16) string {
	return fmt.Sprintf("%s/join/%s/%d", TopicPrefix, kind, join)
}

// AllJoinStates returns a pattern matching all mirrored join values.
//
// Pattern: xsig/join/+/+
func (Topics) AllJoinStates() string {
	return fmt.Sprintf("%s/join/+/+", TopicPrefix)
}

// =============================================================================
// Health and System Topics
// =============================================================================

// BridgeHealth returns the topic for periodic bridge health reports.
//
// Example: xsig/health/bridge
func (Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/health/bridge", TopicPrefix)
}

// SystemStatus returns the bridge online/offline status topic.
// Also used as the Last Will topic for crash detection.
//
// Example: xsig/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTopics returns a pattern matching every bridge topic.
// Use with caution - this receives ALL traffic.
//
// Pattern: xsig/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
