// Package recurrence turns RRULE lines into a structured Rule.
//
// Only the parts of RFC 5545 needed to classify and bucket events are
// modelled. Anything else degrades to Custom instead of failing, so a bad
// rule never keeps an event from being shown.
package recurrence
