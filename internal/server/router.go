package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/l0p7/admindata/internal/api"
	"github.com/l0p7/admindata/internal/endpoints"
	"github.com/l0p7/admindata/internal/httpclient"
	"github.com/l0p7/admindata/internal/metrics"
	"github.com/l0p7/admindata/internal/querycache"
	"github.com/l0p7/admindata/internal/views"
)

const (
	maxUploadBytes = 10 << 20
	maxJSONBytes   = 1 << 20
)

type gateway struct {
	client *api.Client
	logger *slog.Logger
}

// NewGatewayHandler mirrors the backend REST surface through client so every
// read is cached and every write invalidates what it touched. Upstream
// envelopes are relayed byte for byte.
func NewGatewayHandler(client *api.Client, recorder *metrics.Recorder, logger *slog.Logger) http.Handler {
	if client == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeFailure(w, http.StatusServiceUnavailable, "gateway unavailable")
		})
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &gateway{client: client, logger: logger.With(slog.String("agent", "gateway"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /categories", serveQuery(g, endpoints.GetAllCategories, noArg))
	mux.HandleFunc("POST /categories", serveMutation(g, endpoints.CreateCategory, categoryInput))
	mux.HandleFunc("PATCH /category/{id}", serveMutation(g, endpoints.UpdateCategory, categoryUpdate))
	mux.HandleFunc("DELETE /category/{id}", serveMutation(g, endpoints.DeleteCategory, pathID))

	mux.HandleFunc("GET /admin/appointments", serveQuery(g, endpoints.GetAllAppointments, listParams))

	mux.HandleFunc("GET /previousproject", serveQuery(g, endpoints.GetAllOurProjects, listParams))
	mux.HandleFunc("POST /previousproject", serveMutation(g, endpoints.CreatePreviousProject, jsonDocument))
	mux.HandleFunc("PATCH /previousproject/{id}", serveMutation(g, endpoints.UpdatePreviousProject, previousProjectUpdate))
	mux.HandleFunc("DELETE /previousproject/{id}", serveMutation(g, endpoints.DeletePreviousProject, pathID))

	mux.HandleFunc("GET /admin/users", serveQuery(g, endpoints.GetAllUsers, listParams))
	mux.HandleFunc("PATCH /user", serveMutation(g, endpoints.UserStatusUpdate, userStatus))
	mux.HandleFunc("POST /admin/artisan", serveMutation(g, endpoints.CreateArtisans, jsonDocument))
	mux.HandleFunc("GET /user/profile/{id}", serveQuery(g, endpoints.UserByID, pathID))

	mux.HandleFunc("GET /analytics/overview", serveQuery(g, endpoints.GeneralStats, noArg))
	mux.HandleFunc("GET /analytics/project-status", serveQuery(g, endpoints.ProjectStatusFunnel, noArg))
	mux.HandleFunc("GET /analytics/recent-project", serveQuery(g, endpoints.RecentProjects, noArg))
	mux.HandleFunc("GET /dashboard/vendor-order-conversion-rate", serveQuery(g, endpoints.VendorsConversionData, noArg))

	mux.HandleFunc("GET /views/categories", serveView(g, endpoints.GetAllCategories, views.CategoryRows))
	mux.HandleFunc("GET /views/project-status", serveView(g, endpoints.ProjectStatusFunnel, func(s endpoints.ProjectStatus) []views.Slice {
		return views.ProjectStatusChart(&s)
	}))
	mux.HandleFunc("GET /views/recent-projects", serveView(g, endpoints.RecentProjects, views.RecentProjectRows))

	mux.HandleFunc("GET /cache/endpoints", g.serveCatalog)
	mux.HandleFunc("POST /cache/invalidate", g.serveInvalidate)
	mux.HandleFunc("GET /healthz", g.serveHealth)
	if recorder != nil {
		mux.Handle("GET /metrics", recorder.Handler())
	}
	return mux
}

func serveQuery[A, R any](g *gateway, q endpoints.Query[A, R], parse func(*http.Request) (A, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		arg, err := parse(r)
		if err != nil {
			g.fail(w, q.Name(), err)
			return
		}
		res, err := read(r, g.client, q, arg)
		g.relay(w, q.Name(), res.Envelope, err)
	}
}

func serveMutation[A, R any](g *gateway, m endpoints.Mutation[A, R], parse func(*http.Request) (A, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		arg, err := parse(r)
		if err != nil {
			g.fail(w, m.Name(), err)
			return
		}
		// Invalidation must not hinge on the caller staying connected.
		res, err := api.Run(context.WithoutCancel(r.Context()), g.client, m, arg, nil)
		g.relay(w, m.Name(), res.Envelope, err)
	}
}

func serveView[R, V any](g *gateway, q endpoints.Query[endpoints.NoArg, R], shape func(R) V) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := read(r, g.client, q, endpoints.NoArg{})
		if err != nil {
			g.fail(w, q.Name(), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": res.Envelope.Message,
			"data":    shape(res.Data),
		})
	}
}

func read[A, R any](r *http.Request, client *api.Client, q endpoints.Query[A, R], arg A) (api.Result[R], error) {
	if ParseCacheControl(r.Header.Get("Cache-Control")).Bypass() {
		return api.Fresh(r.Context(), client, q, arg)
	}
	return api.Read(r.Context(), client, q, arg)
}

func (g *gateway) serveHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"entries": g.client.Store().Len(),
	}
	size, ok, err := g.client.Store().PersistedSize(r.Context())
	switch {
	case err != nil:
		g.logger.Warn("persisted size unavailable", slog.Any("error", err))
		body["persisted"] = nil
	case ok:
		body["persisted"] = size
	}
	writeJSON(w, http.StatusOK, body)
}

type catalogEntry struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Static      bool     `json:"static"`
	Pinnable    bool     `json:"pinnable"`
	Provides    []string `json:"provides,omitempty"`
	Invalidates []string `json:"invalidates,omitempty"`
}

func (g *gateway) serveCatalog(w http.ResponseWriter, r *http.Request) {
	defs := endpoints.Catalog()
	out := make([]catalogEntry, 0, len(defs))
	for _, def := range defs {
		entry := catalogEntry{
			Name:     def.Name,
			Kind:     def.Kind.String(),
			Method:   def.Method,
			Path:     def.Path.Source(),
			Static:   def.Path.Static(),
			Pinnable: def.NoArg,
		}
		if len(def.Provides) > 0 {
			entry.Provides = endpoints.TagNames(def.Provides)
		}
		if len(def.Invalidates) > 0 {
			entry.Invalidates = endpoints.TagNames(def.Invalidates)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
}

// serveInvalidate drops every entry under the tags named by repeated "tag"
// query values, for changes made to the backend outside this gateway.
func (g *gateway) serveInvalidate(w http.ResponseWriter, r *http.Request) {
	names := r.URL.Query()["tag"]
	if len(names) == 0 {
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf("tag required, one of %s", strings.Join(endpoints.TagNames(endpoints.AllTags()), ", ")))
		return
	}
	tags := make([]endpoints.Tag, 0, len(names))
	for _, name := range names {
		tag, err := endpoints.ParseTag(name)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, fmt.Sprintf("unknown tag %q, one of %s", name, strings.Join(endpoints.TagNames(endpoints.AllTags()), ", ")))
			return
		}
		tags = append(tags, tag)
	}

	var providers []string
	for _, tag := range tags {
		for _, def := range endpoints.ProvidersOf(tag) {
			if !slices.Contains(providers, def.Name) {
				providers = append(providers, def.Name)
			}
		}
	}
	sort.Strings(providers)

	affected := g.client.Store().Invalidate(context.WithoutCancel(r.Context()), tags...)
	g.logger.Info("cache invalidated on request", slog.Any("tags", endpoints.TagNames(tags)), slog.Int("entries", affected))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"tags":      endpoints.TagNames(tags),
			"entries":   affected,
			"endpoints": providers,
		},
	})
}

// relay writes the upstream envelope as received. A typed-decode mismatch is
// logged but does not hide the payload from the caller.
func (g *gateway) relay(w http.ResponseWriter, endpoint string, env httpclient.Envelope, err error) {
	if err != nil && !errors.Is(err, api.ErrUnexpectedData) {
		g.fail(w, endpoint, err)
		return
	}
	if err != nil {
		g.logger.Warn("relaying envelope with unexpected data", slog.String("endpoint", endpoint), slog.Any("error", err))
	}
	if len(env.Raw) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(env.Raw)
}

func (g *gateway) fail(w http.ResponseWriter, endpoint string, err error) {
	status, message := classify(err)
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	g.logger.Log(context.Background(), level, "gateway request failed",
		slog.String("endpoint", endpoint),
		slog.Int("status", status),
		slog.Any("error", err))
	writeFailure(w, status, message)
}

// classify maps client-core errors onto gateway responses.
func classify(err error) (int, string) {
	var (
		validationErr *httpclient.ValidationError
		httpErr       *httpclient.HTTPError
		networkErr    *httpclient.NetworkError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Error()
	case errors.As(err, &httpErr):
		return httpErr.Status, httpErr.Message
	case errors.As(err, &networkErr):
		if networkErr.Timeout() {
			return http.StatusGatewayTimeout, "backend timed out"
		}
		return http.StatusBadGateway, "backend unreachable"
	case errors.Is(err, httpclient.ErrMalformedEnvelope), errors.Is(err, api.ErrUnexpectedData):
		return http.StatusBadGateway, "backend returned a malformed response"
	case errors.Is(err, httpclient.ErrResponseTooLarge):
		return http.StatusBadGateway, "backend response too large"
	case errors.Is(err, querycache.ErrClosed):
		return http.StatusServiceUnavailable, "gateway shutting down"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func noArg(*http.Request) (endpoints.NoArg, error) { return endpoints.NoArg{}, nil }

func pathID(r *http.Request) (endpoints.ID, error) {
	return endpoints.ID(r.PathValue("id")), nil
}

// listParams keeps every query value; names are sorted so equal queries share
// one cache key regardless of parameter order.
func listParams(r *http.Request) (endpoints.ListParams, error) {
	values := r.URL.Query()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	var params endpoints.ListParams
	for _, name := range names {
		for _, value := range values[name] {
			params = append(params, endpoints.Param{Name: name, Value: value})
		}
	}
	return params, nil
}

func categoryInput(r *http.Request) (endpoints.CategoryInput, error) {
	name, image, err := categoryForm(r)
	if err != nil {
		return endpoints.CategoryInput{}, err
	}
	return endpoints.CategoryInput{Name: name, Image: image}, nil
}

func categoryUpdate(r *http.Request) (endpoints.CategoryUpdate, error) {
	name, image, err := categoryForm(r)
	if err != nil {
		return endpoints.CategoryUpdate{}, err
	}
	return endpoints.CategoryUpdate{ID: r.PathValue("id"), Name: name, Image: image}, nil
}

// categoryForm reads the name field and the optional image upload. URL
// encoded forms are accepted for image-less edits.
func categoryForm(r *http.Request) (string, *httpclient.File, error) {
	err := r.ParseMultipartForm(maxUploadBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		return "", nil, httpclient.Validation("body", fmt.Sprintf("unreadable form: %v", err))
	}
	name := r.FormValue("name")

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return name, nil, nil
	}
	if err != nil {
		return "", nil, httpclient.Validation("image", err.Error())
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		return "", nil, httpclient.Validation("image", err.Error())
	}
	return name, &httpclient.File{
		Field:       "image",
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes))
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return httpclient.Validation("body", fmt.Sprintf("invalid json: %v", err))
	}
	return nil
}

func jsonDocument(r *http.Request) (endpoints.Document, error) {
	var doc endpoints.Document
	if err := decodeJSON(r, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func previousProjectUpdate(r *http.Request) (endpoints.PreviousProjectUpdate, error) {
	doc, err := jsonDocument(r)
	if err != nil {
		return endpoints.PreviousProjectUpdate{}, err
	}
	return endpoints.PreviousProjectUpdate{ID: r.PathValue("id"), Fields: doc}, nil
}

func userStatus(r *http.Request) (endpoints.UserStatus, error) {
	var status endpoints.UserStatus
	if err := decodeJSON(r, &status); err != nil {
		return endpoints.UserStatus{}, err
	}
	return status, nil
}
