// Package normalize turns the loosely typed payloads returned by the flow
// API into a single displayable string.
//
// Two extractors live here. Normalize walks an ordered chain of shape
// matchers and falls back to a recursive search and finally to the JSON
// encoding of the payload. ExtractOutputMessage is the narrower extractor
// used on completed flow outputs and keys off the output's "type" field.
package normalize
