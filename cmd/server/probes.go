package main

import (
	"context"
	"net/http"
	"time"

	"github.com/JaimeStill/ktru/pkg/handlers"
	"github.com/JaimeStill/ktru/pkg/lifecycle"
)

const readyTimeout = 2 * time.Second

// probes serves liveness and readiness for orchestrators.
type probes struct {
	lc *lifecycle.Coordinator
}

func (p probes) live(w http.ResponseWriter, _ *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready reports 503 until startup finishes and while any registered
// dependency check fails. Failing checks are listed by name.
func (p probes) ready(w http.ResponseWriter, r *http.Request) {
	if !p.lc.Ready() {
		handlers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failures := p.lc.Check(ctx)
	if len(failures) == 0 {
		handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	body := map[string]string{"status": "degraded"}
	for name, err := range failures {
		body[name] = err.Error()
	}
	handlers.RespondJSON(w, http.StatusServiceUnavailable, body)
}
