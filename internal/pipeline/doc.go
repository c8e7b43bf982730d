// Package pipeline drives one training run through the fixed phase
// sequence: model loading, tokenizer loading, model patching, dataset
// loading and formatting, training, and cleanup. Plugins supply the phase
// behavior; the runner owns phase ordering, fatality decisions, and the
// metric fan-out.
package pipeline
