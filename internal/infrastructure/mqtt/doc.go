// Package mqtt provides MQTT client connectivity for the XSIG bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge uses MQTT as the link to the home-automation side: entity
// state updates arrive on xsig/state/{entity_id}, action invocations
// leave on xsig/action/{domain}/{service}, and the current value of
// every join is mirrored on retained xsig/join/{kind}/{number} topics.
//
//	Home Automation ↔ MQTT Broker ↔ XSIG Bridge ↔ Control Processor
//
// # Security Considerations
//
//   - TLS is recommended for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all entity state updates
//	err = client.Subscribe(mqtt.Topics{}.AllEntityStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish an action
//	topic := mqtt.Topics{}.Action("light", "turn_on")
//	client.Publish(topic, []byte(`{"entity_id":"light.kitchen"}`), 1, false)
package mqtt
