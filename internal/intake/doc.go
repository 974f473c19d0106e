// Package intake provides the business boundary for patient intake and triage.
// It defines the Service (registration, assessment, queue lifecycle, async
// dispatch), the Store interface (persistence), the LLM Provider used for
// free-text explanations, and the domain models that wrap triage.Prediction.
package intake
