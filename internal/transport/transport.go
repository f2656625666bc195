// Package transport implements the ordered request pipeline wrapped around
// every outbound call: logging, user-agent tagging, rate limiting,
// authentication and retry. Stages are resolved once at invoker build time
// and composed by explicit function wrapping.
package transport

import "net/http"

// SendFunc sends one HTTP request. The raw send at the bottom of the
// pipeline is an http.Client.Do; every stage above it has this same shape.
type SendFunc func(req *http.Request) (*http.Response, error)

// Stage wraps a SendFunc with cross-cutting behavior. A stage may pass the
// request through unchanged, modify it, or short-circuit with a response
// or error.
type Stage func(next SendFunc) SendFunc

// Chain composes stages around a base send. The first stage listed becomes
// the outermost wrapper, so Chain(base, a, b, c) sends a(b(c(base))).
func Chain(base SendFunc, stages ...Stage) SendFunc {
	send := base
	for i := len(stages) - 1; i >= 0; i-- {
		send = stages[i](send)
	}
	return send
}

// rewindBody resets a request body before a resend. Requests built from
// in-memory readers carry GetBody, so resends are always possible for the
// payloads this client produces.
func rewindBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}
