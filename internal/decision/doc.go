// Package decision asks a language model which remediation action fits an
// alert. The model is offered the action menu as callable functions; replies
// are parsed from a function call or, failing that, from JSON embedded in
// free text. Every failure degrades to the notify fallback.
package decision
