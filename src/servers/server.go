package servers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/instance"
	"github.com/bililive-tools/bililive-tools/src/interfaces"
	applog "github.com/bililive-tools/bililive-tools/src/log"
	bilisentry "github.com/bililive-tools/bililive-tools/src/pkg/sentry"
)

type Server struct {
	server *http.Server
}

func initMux(ctx context.Context) *mux.Router {
	m := mux.NewRouter()
	m.Use(log)

	api := m.PathPrefix("/api").Subrouter()
	api.HandleFunc("/info", getInfo).Methods(http.MethodGet)
	api.HandleFunc("/lives", getAllLives).Methods(http.MethodGet)
	api.HandleFunc("/lives", addLives).Methods(http.MethodPost)
	api.HandleFunc("/lives/{id}", getLive).Methods(http.MethodGet)
	api.HandleFunc("/lives/{id}", removeLive).Methods(http.MethodDelete)
	api.HandleFunc("/lives/{id}/{action}", parseLiveAction).Methods(http.MethodGet)
	api.HandleFunc("/encode/merge", submitMerge).Methods(http.MethodPost)
	api.HandleFunc("/tasks", getAllTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/{action}", parseTaskAction).Methods(http.MethodPost)
	api.HandleFunc("/webhook/sessions", getWebhookSessions).Methods(http.MethodGet)

	wh := m.PathPrefix("/webhook").Subrouter()
	wh.HandleFunc("/bililiverecorder", webhookBiliRecorder).Methods(http.MethodPost)
	wh.HandleFunc("/blrec", webhookBlrec).Methods(http.MethodPost)
	wh.HandleFunc("/ddtv", webhookDDTV).Methods(http.MethodPost)
	wh.HandleFunc("/custom", webhookCustom).Methods(http.MethodPost)

	m.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return m
}

func NewServer(ctx context.Context) *Server {
	inst := instance.GetInstance(ctx)
	config := inst.Config
	httpServer := &http.Server{
		Addr:    config.RPC.Bind,
		Handler: initMux(ctx),
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}
	server := &Server{server: httpServer}
	inst.Server = server
	return server
}

func (s *Server) Start(ctx context.Context) error {
	inst := instance.GetInstance(ctx)
	inst.WaitGroup.Add(1)
	bilisentry.Go(func() {
		switch err := s.server.ListenAndServe(); err {
		case nil, http.ErrServerClosed:
		default:
			applog.GetLogger().Error(err)
		}
	})
	applog.WithFields(map[string]any{"bind": configs.GetCurrentConfig().RPC.Bind}).
		Info("Server start")
	return nil
}

func (s *Server) Close(ctx context.Context) {
	inst := instance.GetInstance(ctx)
	defer inst.WaitGroup.Done()
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.server.Shutdown(c); err != nil {
		applog.GetLogger().WithError(err).Error("failed to shutdown server")
	}
}

var _ interfaces.Module = (*Server)(nil)
