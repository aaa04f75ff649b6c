package adapter

import (
	"database/sql"

	"github.com/davidoram/sharkd/core"
	"github.com/davidoram/sharkd/view"
	"gopkg.in/guregu/null.v4"
)

// ViewToCoreAdapter converts a view.Service to a core.Service
func ViewToCoreAdapter(vSvc view.Service) core.Service {
	var cSvc core.Service
	cSvc.Name = vSvc.Name
	cSvc.CreatedAt = vSvc.CreatedAt
	cSvc.UpdatedAt = vSvc.UpdatedAt
	cSvc.DeletedAt = sql.NullTime{Time: vSvc.DeletedAt.Time, Valid: vSvc.DeletedAt.Valid}

	// Convert the Webhooks, skipping checkpoints without a URL
	cSvc.Config.Webhooks = map[core.Checkpoint]string{}
	for cp, url := range map[core.Checkpoint]string{
		core.Authorizer:        vSvc.Authorizer,
		core.BeforeSubscribe:   vSvc.BeforeSubscribe,
		core.OnSubscribe:       vSvc.OnSubscribe,
		core.OnMessage:         vSvc.OnMessage,
		core.BeforeUnsubscribe: vSvc.BeforeUnsubscribe,
		core.OnUnsubscribe:     vSvc.OnUnsubscribe,
	} {
		if url != "" {
			cSvc.Config.Webhooks[cp] = url
		}
	}

	cSvc.Config.ExtraFields = append([]string{}, vSvc.ExtraFields...)
	cSvc.Config.FilterFields = append([]string{}, vSvc.FilterFields...)
	requireAuth := vSvc.RequireAuthentication
	cSvc.Config.RequireAuthentication = &requireAuth
	return cSvc
}

// CoreToViewAdapter converts a core.Service to a view.Service
func CoreToViewAdapter(cSvc core.Service) view.Service {
	vSvc := view.NewService()
	vSvc.Name = cSvc.Name
	vSvc.CreatedAt = cSvc.CreatedAt
	vSvc.UpdatedAt = cSvc.UpdatedAt
	vSvc.DeletedAt = null.NewTime(cSvc.DeletedAt.Time, cSvc.DeletedAt.Valid)

	cfg := &cSvc.Config
	vSvc.Authorizer, _ = cfg.URL(core.Authorizer)
	vSvc.BeforeSubscribe, _ = cfg.URL(core.BeforeSubscribe)
	vSvc.OnSubscribe, _ = cfg.URL(core.OnSubscribe)
	vSvc.OnMessage, _ = cfg.URL(core.OnMessage)
	vSvc.BeforeUnsubscribe, _ = cfg.URL(core.BeforeUnsubscribe)
	vSvc.OnUnsubscribe, _ = cfg.URL(core.OnUnsubscribe)

	vSvc.ExtraFields = append(vSvc.ExtraFields, cfg.ExtraFields...)
	vSvc.FilterFields = append(vSvc.FilterFields, cfg.FilterFields...)
	vSvc.RequireAuthentication = cfg.RequiresAuthentication()
	return vSvc
}

// CoreToViewCollection converts a page of services read from the database
func CoreToViewCollection(services []core.Service, offset, limit int64) view.ServiceCollection {
	vSvcs := make([]view.Service, 0, len(services))
	for _, s := range services {
		vSvcs = append(vSvcs, CoreToViewAdapter(s))
	}
	return view.NewServiceCollection(vSvcs, offset, limit)
}

// OutboundToFrame converts a frame queued by a session into its API form
func OutboundToFrame(out core.Outbound) view.Frame {
	return view.Frame{
		Event:        out.Event,
		Subscription: out.Subscription,
		Status:       out.Status,
		Data:         out.Data,
		Error:        out.Error,
	}
}
