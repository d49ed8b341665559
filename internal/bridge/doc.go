// Package bridge connects the CM11A gateway to Gray Logic over MQTT.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐           ┌───────┐
//	│   Gray Logic    │   MQTT   │   X10 Bridge    │  serial   │ CM11A │
//	│      Core       │◄────────►│   (this pkg)    │◄─────────►│       │◄──► powerline
//	└─────────────────┘          └─────────────────┘           └───────┘
//
// # Topics
//
//   - graylogic/command/x10/{device_id}  controller to bridge, CommandMessage
//   - graylogic/ack/x10/{device_id}      bridge to controller, AckMessage
//   - graylogic/state/x10/{address}      retained StateMessage per X10 address
//   - graylogic/health/x10               retained HealthMessage, also the LWT topic
//
// # Commands
//
// Each configured device keeps at most one pending command. A command is
// acknowledged "queued" once scheduled on the gateway and "accepted" once
// transmitted. A newer command for the same device that arrives before the
// older one is transmitted replaces it; the older one is acknowledged as
// failed with code SUPERSEDED.
//
// # Events
//
// Decoded powerline events are published per address with source
// "powerline". The CM11A does not echo its own transmissions, so after a
// successful send the bridge publishes the expected state with source
// "command".
//
// Events are optionally recorded in SQLite (AddressRecorder) and written to
// InfluxDB.
package bridge
