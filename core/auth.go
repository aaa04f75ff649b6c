package core

import (
	"context"
)

const TicketAuthMethod = "ticket"

// Authenticator validates "auth" events by posting the client's ticket to TicketURL.
// The auth info of the session is made of the AuthFields present in the response.
type Authenticator struct {
	TicketURL  string
	AuthFields []string
	Poster     Poster
}

func (a *Authenticator) Authenticate(ctx context.Context, data map[string]any) (map[string]any, error) {
	method, _ := data["method"].(string)
	if method == "" {
		method = TicketAuthMethod
	}
	if method != TicketAuthMethod {
		return nil, ErrInvalidAuthMethod
	}
	if a == nil || a.TicketURL == "" || a.Poster == nil {
		return nil, ErrAuthFailed
	}
	ticket, _ := data["ticket"].(string)
	if ticket == "" {
		return nil, ErrAuthFailed
	}

	resp, err := a.Poster.Post(ctx, a.TicketURL, map[string]any{"ticket": ticket})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, ErrAuthFailed
	}
	info := map[string]any{}
	for _, field := range a.AuthFields {
		if v, ok := resp[field]; ok {
			info[field] = v
		}
	}
	return info, nil
}
