package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/davidoram/sharkd/adapter"
	"github.com/davidoram/sharkd/core"
	"github.com/davidoram/sharkd/view"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

type HandlerContext struct {
	Db      *sql.DB
	Gateway *core.Gateway
}

// ReloadServices loads the active services into the gateway
func (hctx HandlerContext) ReloadServices(ctx context.Context) error {
	table, err := core.LoadServiceTable(ctx, hctx.Db)
	if err != nil {
		return err
	}
	hctx.Gateway.SetServices(table)
	slog.Info("services loaded", slog.Int("services", len(table)))
	return nil
}

// PostServiceHandler handles POST requests to create or replace a service
// It takes a JSON body representing the service
func (hctx HandlerContext) PostServiceHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()

	if err != nil {
		slog.Error("Error reading request body", slog.Any("error", err))
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}

	now := time.Now().In(time.UTC)
	vsvc, err := view.NewServiceFromJSON(body, now, now, sql.NullTime{})
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		if vErr, ok := err.(govalidator.Errors); ok {
			slog.Info("validation error", slog.Any("error", vErr.Errors()))
			for _, e := range vErr.Errors() {
				fmt.Fprintf(w, "%s\n", e)
			}
		} else {
			slog.Info("error", slog.Any("error", err))
			fmt.Fprintf(w, "Invalid request body")
		}
		return
	}

	csvc := adapter.ViewToCoreAdapter(vsvc)
	if err := core.UpsertService(ctx, hctx.Db, csvc); err != nil {
		slog.Error("Error saving service", slog.Any("error", err))
		http.Error(w, "Error saving service", http.StatusInternalServerError)
		return
	}
	if err := hctx.ReloadServices(ctx); err != nil {
		slog.Error("Error reloading services", slog.Any("error", err))
		http.Error(w, "Error reloading services", http.StatusInternalServerError)
		return
	}

	body, err = json.Marshal(adapter.CoreToViewAdapter(csvc))
	if err != nil {
		slog.Error("Error marshalling service", slog.Any("error", err))
		http.Error(w, "Error marshalling service", http.StatusInternalServerError)
		return
	}
	slog.Info("Service saved", slog.String("name", csvc.Name))

	// Set the Location header to the URL of the resource
	w.Header().Set("Location", csvc.ResourcePath())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

// ListServicesHandler handles GET requests to list services
// It takes the following query parameters:
// - offset: the offset to start listing services from, defaults to 0
// - limit: the maximum number of services to return, defaults to 100
// Example: GET /1/services?offset=10&limit=10
func (hctx HandlerContext) ListServicesHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	offset, ok := ParseQueryValue(r, w, "offset", 0)
	if !ok {
		return
	}
	limit, ok := ParseQueryValue(r, w, "limit", 100)
	if !ok {
		return
	}

	svcs, err := core.GetServices(r.Context(), hctx.Db, offset, limit)
	if err != nil {
		slog.Error("Error reading services", slog.Any("error", err))
		http.Error(w, "Error reading services", http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(adapter.CoreToViewCollection(svcs, offset, limit))
	if err != nil {
		slog.Error("Error marshalling services", slog.Any("error", err))
		http.Error(w, "Error marshalling services", http.StatusInternalServerError)
		return
	}
	slog.Info("List Services", slog.Any("offset", offset), slog.Any("limit", limit), slog.Any("services found", len(svcs)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// DeleteServiceHandler soft deletes a service. Subscriptions that already exist keep working,
// new ones are rejected.
func (hctx HandlerContext) DeleteServiceHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	name := p.ByName("name")
	err := core.DeleteService(r.Context(), hctx.Db, name, time.Now().In(time.UTC))
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, fmt.Sprintf("Service '%s' not found", name), http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error deleting service", slog.Any("error", err), slog.String("name", name))
		http.Error(w, "Error deleting service", http.StatusInternalServerError)
		return
	}
	if err := hctx.ReloadServices(r.Context()); err != nil {
		slog.Error("Error reloading services", slog.Any("error", err))
		http.Error(w, "Error reloading services", http.StatusInternalServerError)
		return
	}
	slog.Info("Service deleted", slog.String("name", name))
	w.WriteHeader(http.StatusNoContent)
}

// PublishHandler routes a service message to the subscribed sessions, for services that do
// not publish over kafka or redis
func (hctx HandlerContext) PublishHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var msg map[string]any
	if err := dec.Decode(&msg); err != nil || msg == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	err := hctx.Gateway.Publish(r.Context(), msg)
	if errors.Is(err, core.ErrMissingSubscription) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("Error publishing", slog.Any("error", err))
		http.Error(w, "Error publishing", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func ParseQueryValue(r *http.Request, w http.ResponseWriter, key string, value int64) (int64, bool) {
	valueStr := r.URL.Query().Get(key)
	if valueStr != "" {
		_, err := fmt.Sscanf(valueStr, "%d", &value)
		if err != nil || value < 0 {
			slog.Info("Error parsing URL param as int64", slog.Any("error", err), slog.String("key", key), slog.String("value", valueStr))
			http.Error(w, fmt.Sprintf("Error parsing URL param '%s' with value '%s' as integer", key, valueStr), http.StatusBadRequest)
			return 0, false
		}
	}
	return value, true
}
