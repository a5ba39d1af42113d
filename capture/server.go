package capture

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edaniels/golog"
	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// NewRouter exposes the polling protocol for one session.
//
//	GET  /poll_command  -> {"id": ..., "action": "capture"} or {"action": "none"}
//	POST /upload        -> multipart "file" (+ optional "id" echo)
func NewRouter(s *Session, logger golog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Get("/poll_command", func(w http.ResponseWriter, _ *http.Request) {
		cmd, ok := s.NextCommand()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			writeJSON(w, logger, map[string]string{"action": "none"})
			return
		}
		writeJSON(w, logger, cmd)
	})

	r.Post("/upload", func(w http.ResponseWriter, req *http.Request) {
		file, _, err := req.FormFile("file")
		if err != nil {
			http.Error(w, errors.Wrap(err, "upload needs a multipart file").Error(), http.StatusBadRequest)
			return
		}
		defer goutils.UncheckedErrorFunc(file.Close)

		if err := s.CompleteUpload(req.FormValue("id"), file); err != nil {
			logger.Warnw("rejected upload", "error", err)
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, logger, map[string]string{"status": "ok"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, logger golog.Logger, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("writing response", "error", err)
	}
}

// Serve runs the capture endpoint until the context is canceled.
func Serve(ctx context.Context, addr string, s *Session, logger golog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(s, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	goutils.PanicCapturingGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		goutils.UncheckedErrorFunc(func() error { return server.Shutdown(shutdownCtx) })
	})
	logger.Infow("capture server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
