/*
Package rabbitmq provides an AMQP-backed bus connection for the owner-watch
registry. Match rules map to bindings between a topic exchange and the
connection's private queue, and emitted signals are published to the same
exchange, with optional header propagation via a bus.HeaderPropagator.
*/
package rabbitmq
