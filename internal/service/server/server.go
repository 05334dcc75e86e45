package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"secure_drop/internal/config"
	"secure_drop/internal/model"
	"secure_drop/internal/protocol/envelope"
	"secure_drop/internal/repository/keystore"
	"secure_drop/internal/service/delivery"
	"secure_drop/internal/utils/log"
	"secure_drop/internal/utils/ratelimit"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type (
	// KeyManager is the part of the key store exposed over HTTP.
	KeyManager interface {
		EnsureKeyPair(identity string) (bool, error)
		PublicKeyPEM(identity string) ([]byte, error)
	}

	HttpServer struct {
		delivery   *delivery.Service
		keys       KeyManager
		gatherer   prometheus.Gatherer
		limiter    *ratelimit.KeyLimiter
		defaultTTL time.Duration

		upgrader      websocket.Upgrader
		watchInterval time.Duration
		now           func() time.Time

		addr string
		srv  *http.Server
	}

	Option func(*HttpServer)
)

// WithWatchInterval sets how often the watch endpoint pushes a countdown
// frame.
func WithWatchInterval(d time.Duration) Option {
	return func(s *HttpServer) {
		s.watchInterval = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *HttpServer) {
		s.now = now
	}
}

func NewHttpServer(cfg config.Server, defaultTTL time.Duration, svc *delivery.Service, keys KeyManager, gatherer prometheus.Gatherer, opts ...Option) *HttpServer {
	s := &HttpServer{
		delivery:      svc,
		keys:          keys,
		gatherer:      gatherer,
		limiter:       ratelimit.New(cfg.ReceiveRPS, cfg.ReceiveBurst, 0),
		defaultTTL:    defaultTTL,
		watchInterval: time.Second,
		now:           time.Now,
		addr:          cfg.Addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/keys/{id}", s.EnsureKeys()).Methods(http.MethodPut)
	r.HandleFunc("/keys/{id}", s.GetPublicKey()).Methods(http.MethodGet)

	r.HandleFunc("/messages", s.Wipe()).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}", s.Send()).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", s.Inspect()).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", s.Discard()).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/receive", s.Receive()).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/watch", s.Watch()).Methods(http.MethodGet)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// Run starts listening in the background. Errors other than a clean
// shutdown are logged.
func (s *HttpServer) Run() {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
		}
	}()
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *HttpServer) EnsureKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := model.ValidateRecipientID(id); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		created, err := s.keys.EnsureKeyPair(id)
		if err != nil {
			log.Error("ensure key pair failed", zap.String("recipient", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		code := http.StatusOK
		if created {
			code = http.StatusCreated
			log.Info("key pair generated", zap.String("recipient", id))
		}
		writeJSON(w, code, &model.KeyResponse{RecipientID: id, Created: created})
	}
}

func (s *HttpServer) GetPublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := model.ValidateRecipientID(id); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		data, err := s.keys.PublicKeyPEM(id)
		if errors.Is(err, keystore.ErrKeyLoad) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		w.Header().Set("Content-Type", "application/x-pem-file")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func (s *HttpServer) Send() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req model.SendRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, errors.New("text must not be empty"))
			return
		}

		ttl := s.defaultTTL
		if req.TTLMinutes != nil {
			ttl = time.Duration(*req.TTLMinutes * float64(time.Minute))
		}

		receipt, err := s.delivery.Send(r.Context(), id, req.Text, ttl)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		writeJSON(w, http.StatusCreated, &model.SendResponse{
			RecipientID:   receipt.RecipientID,
			ExpiryUTC:     receipt.ExpiryUTC,
			Replaced:      receipt.Replaced,
			ExpiredPurged: receipt.ExpiredPurged,
		})
	}
}

func (s *HttpServer) Receive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !s.limiter.Allow(id, s.now()) {
			log.Warn("receive throttled", zap.String("recipient", id))
			writeError(w, http.StatusTooManyRequests, errors.New("too many receive attempts"))
			return
		}

		receipt, err := s.delivery.Receive(r.Context(), id)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		writeJSON(w, statusForOutcome(receipt.Status), &model.ReceiveResponse{
			RecipientID: receipt.RecipientID,
			Status:      receipt.Status.String(),
			Text:        receipt.Plaintext,
		})
	}
}

func (s *HttpServer) Inspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		st, err := s.delivery.Inspect(r.Context(), id)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, statusForOutcome(st.Status), slotView(st))
	}
}

func (s *HttpServer) Discard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.delivery.Discard(r.Context(), id); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *HttpServer) Wipe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.delivery.Wipe(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, &model.WipeResponse{Removed: n})
	}
}

func slotView(st *delivery.SlotStatus) *model.SlotView {
	v := &model.SlotView{
		RecipientID: st.RecipientID,
		Status:      st.Status.String(),
	}
	if st.Status == delivery.StatusPending {
		expiry := st.ExpiryUTC
		v.ReadOnce = st.ReadOnce
		v.ExpiryUTC = &expiry
		v.RemainingSeconds = int64(st.Remaining / time.Second)
	}
	return v
}

func statusForOutcome(st delivery.Status) int {
	switch st {
	case delivery.StatusNotFound:
		return http.StatusNotFound
	case delivery.StatusExpired:
		return http.StatusGone
	default:
		return http.StatusOK
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRecipient), errors.Is(err, delivery.ErrInvalidTTL):
		return http.StatusBadRequest
	case envelope.IsTamper(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "marshal response failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, &model.ErrorResponse{Error: err.Error()})
}
