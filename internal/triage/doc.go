// Package triage implements the rule-based clinical triage engine. It turns a
// visit record (vitals, symptoms, history) into a Prediction: an overall risk
// level and score, a score per hospital department, the recommended
// departments and the weights that produced every number.
//
// The engine is a pure function of its input. It performs no I/O, holds no
// mutable state and is safe for concurrent use.
package triage
