package adapter

import (
	"time"

	"github.com/davidoram/sharkd/configuration"
	"github.com/davidoram/sharkd/core"
)

// ConfigurationToCoreAdapter converts a service seeded from the configuration file to a core.Service
func ConfigurationToCoreAdapter(cfgSvc configuration.Service, now time.Time) core.Service {
	cSvc := core.Service{
		Name:      cfgSvc.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cSvc.Config.Webhooks = map[core.Checkpoint]string{}
	for cp, url := range map[core.Checkpoint]string{
		core.Authorizer:        cfgSvc.Authorizer,
		core.BeforeSubscribe:   cfgSvc.BeforeSubscribe,
		core.OnSubscribe:       cfgSvc.OnSubscribe,
		core.OnMessage:         cfgSvc.OnMessage,
		core.BeforeUnsubscribe: cfgSvc.BeforeUnsubscribe,
		core.OnUnsubscribe:     cfgSvc.OnUnsubscribe,
	} {
		if url != "" {
			cSvc.Config.Webhooks[cp] = url
		}
	}
	cSvc.Config.ExtraFields = append([]string{}, cfgSvc.ExtraFields...)
	cSvc.Config.FilterFields = append([]string{}, cfgSvc.FilterFields...)
	if cfgSvc.RequireAuthentication != nil {
		requireAuth := *cfgSvc.RequireAuthentication
		cSvc.Config.RequireAuthentication = &requireAuth
	}
	return cSvc
}
