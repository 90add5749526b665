// Package checkin provides the business boundary for FloodVoice safety check-ins.
// It defines the Processor (webhook state machine), Classifier (LLM distress
// assessment with model fallback), Dispatcher (liaison alerting), Orchestrator
// (outbound call fan-out), the Store interface and the domain models.
package checkin
