package middleware

import (
	"net/http"

	pkghttp "github.com/BradenHooton/estateguard/pkg/http"
)

// Decision is a guard's verdict on one request
type Decision struct {
	Allowed bool
	Status  int
	Code    string
	Message string
}

// Allow lets the request through to the next guard
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny stops the pipeline with an error response
func Deny(status int, code, message string) Decision {
	return Decision{Status: status, Code: code, Message: message}
}

// Guard inspects a request without writing to the response
type Guard func(r *http.Request) Decision

// Pipeline runs guards in order and stops at the first denial
type Pipeline struct {
	guards []Guard
}

func NewPipeline(guards ...Guard) Pipeline {
	return Pipeline{guards: guards}
}

// Then returns a pipeline with more guards appended
func (p Pipeline) Then(guards ...Guard) Pipeline {
	combined := make([]Guard, 0, len(p.guards)+len(guards))
	combined = append(combined, p.guards...)
	combined = append(combined, guards...)
	return Pipeline{guards: combined}
}

// Evaluate returns the first denial, or Allow
func (p Pipeline) Evaluate(r *http.Request) Decision {
	for _, guard := range p.guards {
		if d := guard(r); !d.Allowed {
			return d
		}
	}
	return Allow()
}

// Handler wraps next so it only runs when every guard allows
func (p Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := p.Evaluate(r); !d.Allowed {
			pkghttp.WriteError(w, d.Status, d.Code, d.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}
