// Package mqtt connects the control pipeline to an MQTT broker. Every
// characteristic is bridged to a queue named
// {device}/{service}/{characteristic uuid}: the host consumes those
// queues through one [QueueSource] each, and the device publishes field
// transitions to them through [Client.Notify].
//
// The client uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// re-subscribes every registered queue, publishes retained Home
// Assistant discovery configs, a birth message ("online") to the
// availability topic, and any field values stored while the broker was
// unreachable. A will message flips availability to "offline" on
// unexpected disconnects.
//
// Messages are consumed at QoS 1. The acknowledgement is sent after
// the receive callback returns, and the callback blocks until the
// owning QueueSource has applied the payload, so a message is acked
// only once it has been processed.
package mqtt
